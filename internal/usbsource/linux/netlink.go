//go:build linux

package linux

import (
	"bytes"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ueventAction is the udev action a kernel uevent message names.
type ueventAction uint8

const (
	ueventUnknown ueventAction = iota
	ueventAdd
	ueventRemove
	ueventBind
	ueventUnbind
)

// uevent is the subset of a parsed kernel uevent message this source
// cares about: which device directory changed, and how.
type uevent struct {
	action    ueventAction
	devpath   string
	subsystem string
}

// openUeventSocket opens and binds a netlink socket to the kernel's uevent
// broadcast group, the same one udevd itself listens on. SO_PASSCRED is set
// so every subsequent recvmsg carries the sender's credentials, letting
// readUevent reject anything not actually sent by the kernel (§4.3).
func openUeventSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, netlinkKObjectUEvent)
	if err != nil {
		return -1, err
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: netlinkGroupKernel}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// readUevent reads and parses one pending uevent datagram, rejecting
// anything not broadcast by the kernel itself: the sender's netlink group
// must be the kernel group, and its credentials (SCM_CREDENTIALS, present
// because openUeventSocket set SO_PASSCRED) must carry uid 0. Without this
// check any local process could bind the same multicast group and inject
// spoofed add/remove uevents. ok is false when the socket had nothing to
// read (EAGAIN) or the datagram was rejected.
func readUevent(fd int) (evt uevent, ok bool, err error) {
	buf := make([]byte, ueventBufferSize)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))
	n, oobn, _, from, rerr := unix.Recvmsg(fd, buf, oob, 0)
	if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
		return uevent{}, false, nil
	}
	if rerr != nil {
		return uevent{}, false, rerr
	}
	if n <= 0 {
		return uevent{}, false, nil
	}

	nl, isNetlink := from.(*unix.SockaddrNetlink)
	if !isNetlink || nl.Groups != netlinkGroupKernel || nl.Pid != 0 {
		return uevent{}, false, nil
	}

	scms, perr := unix.ParseSocketControlMessage(oob[:oobn])
	if perr != nil || len(scms) == 0 {
		return uevent{}, false, nil
	}
	cred, perr := unix.ParseUnixCredentials(&scms[0])
	if perr != nil || cred.Uid != 0 {
		return uevent{}, false, nil
	}

	return parseUevent(buf[:n]), true, nil
}

// parseUevent decodes the NUL-separated ACTION=/DEVPATH=/SUBSYSTEM= fields
// a kernel uevent netlink message carries.
func parseUevent(data []byte) uevent {
	var evt uevent
	for _, line := range bytes.Split(data, []byte{0}) {
		s := string(line)
		idx := strings.IndexByte(s, '=')
		if idx < 0 {
			continue
		}
		key, value := s[:idx], s[idx+1:]
		switch key {
		case "ACTION":
			switch value {
			case "add":
				evt.action = ueventAdd
			case "remove":
				evt.action = ueventRemove
			case "bind":
				evt.action = ueventBind
			case "unbind":
				evt.action = ueventUnbind
			}
		case "DEVPATH":
			evt.devpath = value
		case "SUBSYSTEM":
			evt.subsystem = value
		}
	}
	return evt
}

// deviceDirFromDevpath maps a kernel DEVPATH (e.g.
// "/devices/pci0000:00/.../usb1/1-3") to the sysfs device directory this
// source scans, "1-3" here becoming sysfsUSBPath+"/1-3".
func deviceDirFromDevpath(devpath string) string {
	return filepath.Join(sysfsUSBPath, filepath.Base(devpath))
}
