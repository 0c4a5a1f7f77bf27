package model

import (
	"strconv"
	"strings"
)

// VidPid is a (VID,PID) pair used by the Linux expected-tty mechanism to
// decide which usbserial-bound devices are worth waiting on (§4.3).
type VidPid struct {
	VID uint16
	PID uint16
}

// WatchSettings is the immutable filter specification supplied by the
// embedder before starting the watcher (§3). Zero value means "no
// filtering, ADB correlation disabled".
type WatchSettings struct {
	// TypeFilters is an ordered list of type bitmasks; a record passes if
	// any mask is fully covered by the record's type bits (OR-of-AND). An
	// empty list passes everything.
	TypeFilters []DeviceType

	IncludeVids []uint16
	ExcludeVids []uint16
	IncludePids []uint16
	ExcludePids []uint16

	// Drivers, when non-empty, restricts matches to records whose Driver
	// field is in this list.
	Drivers []string

	// EnableADBCorrelation turns on component E (§4.5). When false, USB-ADB
	// candidates are emitted directly like any other interface, unenriched.
	EnableADBCorrelation bool

	// AllowModprobe gates the Linux expected-tty privileged rebind script
	// (§4.3). The mechanism is a no-op unless this is true AND
	// UsbserialVidPid is non-empty — see SPEC_FULL.md §C.1.
	AllowModprobe bool

	// UsbserialVidPid lists the (vid,pid) pairs considered usbserial
	// candidates worth waiting on for a tty node (Linux only).
	UsbserialVidPid []VidPid

	// IPList is issued as host:connect:<entry> commands to the ADB server
	// during startup (§6 CLI surface).
	IPList []string
}

// PassesTypeFilter reports whether t satisfies the OR-of-AND type filter.
func (s WatchSettings) PassesTypeFilter(t DeviceType) bool {
	if len(s.TypeFilters) == 0 {
		return true
	}
	for _, mask := range s.TypeFilters {
		if t.Has(mask) {
			return true
		}
	}
	return false
}

// PassesVidFilter reports whether vid satisfies the include/exclude lists.
func (s WatchSettings) PassesVidFilter(vid uint16) bool {
	return passesFilter(vid, s.IncludeVids, s.ExcludeVids)
}

// PassesPidFilter reports whether pid satisfies the include/exclude lists.
func (s WatchSettings) PassesPidFilter(pid uint16) bool {
	return passesFilter(pid, s.IncludePids, s.ExcludePids)
}

func passesFilter(v uint16, include, exclude []uint16) bool {
	if len(include) > 0 {
		found := false
		for _, c := range include {
			if c == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, c := range exclude {
		if c == v {
			return false
		}
	}
	return true
}

// PassesDriverFilter reports whether driver satisfies the driver allowlist.
func (s WatchSettings) PassesDriverFilter(driver string) bool {
	if len(s.Drivers) == 0 {
		return true
	}
	for _, d := range s.Drivers {
		if d == driver {
			return true
		}
	}
	return false
}

// Passes runs the full four-check AND pipeline described in §4.4.
func (s WatchSettings) Passes(d DeviceInterface) bool {
	return s.PassesTypeFilter(d.Type) &&
		s.PassesVidFilter(d.VID) &&
		s.PassesPidFilter(d.PID) &&
		s.PassesDriverFilter(d.Driver)
}

// ParseVidOrPid parses a single vid/pid flag token: decimal, or 0x-prefixed
// hex. A leading '!' (exclusion marker) must already be stripped by the
// caller. Returns an error wrapped as ConfigError on malformed input.
func ParseVidOrPid(tok string) (uint16, error) {
	n, err := strconv.ParseUint(tok, 0, 16)
	if err != nil {
		return 0, &ConfigError{Field: "vid/pid", Value: tok, Err: err}
	}
	return uint16(n), nil
}

// ParseTypeFilters parses the §6 "types" flag syntax into an OR-of-AND
// TypeFilters list: "|" separates alternatives (each becomes one mask in
// the returned slice), "," within an alternative ANDs type names together
// into a single mask via ParseDeviceType.
func ParseTypeFilters(s string) []DeviceType {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var filters []DeviceType
	for _, alt := range strings.Split(s, "|") {
		filters = append(filters, ParseDeviceType(alt))
	}
	return filters
}
