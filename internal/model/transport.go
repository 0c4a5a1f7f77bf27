package model

// TransportType selects which class of ADB transport a TransportOption
// should bind to (§3, `original_source/adb-client/adb-client.h`).
type TransportType int

const (
	TransportAny TransportType = iota
	TransportUsb
	TransportLocal
)

func (t TransportType) String() string {
	switch t {
	case TransportUsb:
		return "usb"
	case TransportLocal:
		return "local"
	default:
		return "any"
	}
}

// TransportOption selects the target of an ADB operation (§3, §4.2
// "Transport switching"). The zero value selects Any transport with
// autostart disabled; DefaultTransportOption enables autostart.
type TransportOption struct {
	Server string
	Port   string
	Serial string

	TransportType TransportType

	// TransportID, when non-nil, is sent verbatim as
	// "host:transport-id:<n>" instead of deriving a transport from Serial
	// or TransportType.
	TransportID *int64

	// LaunchServerIfNeed mirrors the original's launchServerIfNeed (§4.2
	// "Server autostart"). False in the zero value; DefaultTransportOption
	// sets it to true.
	LaunchServerIfNeed bool
}

// DefaultTransportOption returns the zero-ish default used when an
// embedder or CLI invocation supplies none explicitly: Any transport,
// autostart enabled.
func DefaultTransportOption() TransportOption {
	return TransportOption{
		TransportType:      TransportAny,
		LaunchServerIfNeed: true,
	}
}

// DeviceInfo is one row of an ADB `host:devices-l` listing (§3, §4.5).
type DeviceInfo struct {
	Serial      string
	State       string
	Product     string
	Model       string
	Device      string
	TransportID int64
}

// Stat is the result of the sync `STAT`/`STA2` service (§4.2). Fields beyond
// Mode/Size/Mtime are populated only when the peer advertises `stat_v2`;
// v1 peers leave Dev/Ino/Nlink/Uid/Gid/Atime/Ctime at zero.
type Stat struct {
	Dev   uint64
	Ino   uint64
	Mode  uint32
	Nlink uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime int64
	Mtime int64
	Ctime int64
}

// IsRegular reports whether Mode's file-type bits indicate a regular file,
// using the standard S_IFMT/S_IFREG octal masks from the POSIX stat mode.
func (s Stat) IsRegular() bool {
	const sIFMT = 0o170000
	const sIFREG = 0o100000
	return s.Mode&sIFMT == sIFREG
}

// IsDir reports whether Mode's file-type bits indicate a directory.
func (s Stat) IsDir() bool {
	const sIFMT = 0o170000
	const sIFDIR = 0o040000
	return s.Mode&sIFMT == sIFDIR
}

// IsSymlink reports whether Mode's file-type bits indicate a symbolic link.
func (s Stat) IsSymlink() bool {
	const sIFMT = 0o170000
	const sIFLNK = 0o120000
	return s.Mode&sIFMT == sIFLNK
}

// Exists reports whether the stat call found anything at all. A v1 "not
// found" response comes back as an all-zero Stat; this treats that as the
// only reliable not-exists signal available under v1.
func (s Stat) Exists() bool {
	return s != Stat{}
}

// ListItem is one directory entry returned by the sync `LIST`/`LIS2`
// service, terminated by a `DONE` packet (§4.2).
type ListItem struct {
	Name  string
	Mode  uint32
	Size  uint64
	Mtime int64
}

func (l ListItem) IsDir() bool {
	const sIFMT = 0o170000
	const sIFDIR = 0o040000
	return l.Mode&sIFMT == sIFDIR
}

func (l ListItem) IsSymlink() bool {
	const sIFMT = 0o170000
	const sIFLNK = 0o120000
	return l.Mode&sIFMT == sIFLNK
}
