//go:build linux

package linux

// sysfsUSBPath is the base directory sysfs exposes USB device nodes under.
// A var, not a const, so tests can point it at a fixture tree.
var sysfsUSBPath = "/sys/bus/usb/devices"

// sysfsTTYPath is where usbserial-bound tty nodes register once a driver
// claims the interface, keyed by that interface's sysfs directory name.
const sysfsTTYPath = "tty"

// netlinkKObjectUEvent is NETLINK_KOBJECT_UEVENT, the protocol udevd uses
// to broadcast add/remove/bind/unbind events.
const netlinkKObjectUEvent = 15

// netlinkGroupKernel is the kernel broadcast multicast group (as opposed
// to the udevd-only group); binding here mirrors what udevd itself binds.
const netlinkGroupKernel = 1

// ueventBufferSize is generous for a single netlink datagram; the kernel
// never sends a uevent message larger than one page.
const ueventBufferSize = 4096

// maxEpollEvents bounds one epoll_wait call's event batch; this source
// only ever registers two descriptors (netlink socket, shutdown eventfd).
const maxEpollEvents = 8

// expectedTTYTimeout is how long the source waits for a usbserial
// candidate's tty node to appear in sysfs before giving up on it (§4.3's
// 1s default).
const expectedTTYTimeout = 1
