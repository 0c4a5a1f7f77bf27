//go:build linux

package linux

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/FluidXR/devicewatch/internal/model"
	"github.com/FluidXR/devicewatch/internal/usbsource"
)

// Options configures the Linux source's expected-tty mechanism (§4.3,
// SPEC_FULL.md §C.1). The mechanism is a no-op unless both AllowModprobe
// is true and UsbserialVidPid is non-empty.
type Options struct {
	UsbserialVidPid []model.VidPid
	AllowModprobe   bool
}

// Source is the Linux usbsource.Source implementation: a netlink uevent
// listener backed by sysfs reads, with an opt-in privileged usbserial
// rebind for devices whose tty node is slow to appear.
type Source struct {
	opts Options

	mu      sync.Mutex
	known   map[string]usbsource.RawInterface
	pending map[string]*time.Timer // locator -> expected-tty deadline

	netlinkFD int
	epfd      int
	wakeFD    int

	sink usbsource.Sink
	done chan struct{}
}

// New constructs a Linux source. Start must be called before it does
// anything.
func New(opts Options) *Source {
	return &Source{
		opts:      opts,
		known:     make(map[string]usbsource.RawInterface),
		pending:   make(map[string]*time.Timer),
		netlinkFD: -1,
		epfd:      -1,
		wakeFD:    -1,
	}
}

// Start implements usbsource.Source (§4.3).
func (s *Source) Start(sink usbsource.Sink) error {
	fd, err := openUeventSocket()
	if err != nil {
		return &usbsource.EnumerationInitError{Err: fmt.Errorf("open uevent socket: %w", err)}
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return &usbsource.EnumerationInitError{Err: fmt.Errorf("epoll_create1: %w", err)}
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return &usbsource.EnumerationInitError{Err: fmt.Errorf("eventfd: %w", err)}
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		unix.Close(fd)
		return &usbsource.EnumerationInitError{Err: fmt.Errorf("epoll_ctl add netlink: %w", err)}
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		unix.Close(fd)
		return &usbsource.EnumerationInitError{Err: fmt.Errorf("epoll_ctl add eventfd: %w", err)}
	}

	s.netlinkFD = fd
	s.epfd = epfd
	s.wakeFD = wakeFD
	s.sink = sink
	s.done = make(chan struct{})

	s.enumerateInitial()
	sink.OnInitialEnumerationDone()

	go s.loop()
	return nil
}

// Stop implements usbsource.Source: signals the poll loop via the wakeup
// eventfd and waits for it to exit before releasing descriptors.
func (s *Source) Stop() {
	if s.wakeFD < 0 {
		return
	}
	var val [8]byte
	val[0] = 1
	unix.Write(s.wakeFD, val[:])
	<-s.done

	s.mu.Lock()
	for _, t := range s.pending {
		t.Stop()
	}
	s.mu.Unlock()

	unix.Close(s.netlinkFD)
	unix.Close(s.epfd)
	unix.Close(s.wakeFD)
}

// enumerateInitial performs the one-synthetic-arrival-per-present-interface
// pass §4.3 requires before OnInitialEnumerationDone fires.
func (s *Source) enumerateInitial() {
	ifaces, err := scanDevices()
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, iface := range ifaces {
		s.known[iface.locator] = iface.raw
		s.sink.OnInterfaceEnumerated(iface.locator, iface.raw)
		s.maybeArmExpectedTTYLocked(iface)
	}
}

// loop is the epoll wait loop; it runs until Stop writes to wakeFD.
func (s *Source) loop() {
	defer close(s.done)
	var events [maxEpollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(s.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case s.wakeFD:
				return
			case s.netlinkFD:
				s.drainNetlink()
			}
		}
	}
}

// drainNetlink reads every currently-pending uevent off the netlink
// socket and reconciles the cached view against it.
func (s *Source) drainNetlink() {
	for {
		evt, ok, err := readUevent(s.netlinkFD)
		if err != nil || !ok {
			return
		}
		s.handleUevent(evt)
	}
}

func (s *Source) handleUevent(evt uevent) {
	switch evt.subsystem {
	case "usb":
		s.handleUSBEvent(evt)
	case "tty":
		s.handleTTYEvent(evt)
	}
}

// handleUSBEvent re-scans the device directory named by the event's
// devpath and diffs it against the cached view, emitting
// OnInterfaceEnumerated/OnInterfaceOff as interfaces come and go.
func (s *Source) handleUSBEvent(evt uevent) {
	devDir := deviceDirFromDevpath(evt.devpath)
	deviceName := filepath.Base(devDir)

	s.mu.Lock()
	defer s.mu.Unlock()

	current := scanInterfacesOf(deviceName, devDir)
	seen := make(map[string]bool, len(current))
	for _, iface := range current {
		seen[iface.locator] = true
		if old, existed := s.known[iface.locator]; !existed || old != iface.raw {
			s.known[iface.locator] = iface.raw
			s.sink.OnInterfaceEnumerated(iface.locator, iface.raw)
			s.maybeArmExpectedTTYLocked(iface)
		}
	}

	if evt.action != ueventRemove {
		return
	}
	for locator := range s.known {
		if locatorBelongsToDevice(locator, devDir) && !seen[locator] {
			delete(s.known, locator)
			s.sink.OnInterfaceOff(locator)
			s.cancelExpectedTTYLocked(locator)
		}
	}
}

// handleTTYEvent cancels any armed expected-tty timer and re-enumerates
// the owning interface once its tty node has actually appeared.
func (s *Source) handleTTYEvent(evt uevent) {
	if evt.action != ueventAdd && evt.action != ueventBind {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for locator, raw := range s.known {
		if raw.Devpath != "" {
			continue
		}
		if t, ok := s.pending[locator]; ok {
			t.Stop()
			delete(s.pending, locator)
		}
		if dev := ttyDevpath(locator); dev != "" {
			raw.Devpath = dev
			s.known[locator] = raw
			s.sink.OnInterfaceEnumerated(locator, raw)
		}
	}
}

// maybeArmExpectedTTYLocked starts the expected-tty timeout for a
// usbserial candidate interface that has no tty node yet (§4.3's
// "Expected-tty mechanism"). Caller holds s.mu.
func (s *Source) maybeArmExpectedTTYLocked(iface sysfsInterface) {
	if !s.opts.AllowModprobe || len(s.opts.UsbserialVidPid) == 0 {
		return
	}
	if iface.raw.Devpath != "" || iface.raw.Driver != "" {
		return
	}
	if !matchesVidPid(s.opts.UsbserialVidPid, iface.raw.VID, iface.raw.PID) {
		return
	}
	if _, armed := s.pending[iface.locator]; armed {
		return
	}
	vid, pid := iface.raw.VID, iface.raw.PID
	s.pending[iface.locator] = time.AfterFunc(expectedTTYTimeout*time.Second, func() {
		s.onExpectedTTYTimeout(iface.locator, vid, pid)
	})
}

func (s *Source) cancelExpectedTTYLocked(locator string) {
	if t, ok := s.pending[locator]; ok {
		t.Stop()
		delete(s.pending, locator)
	}
}

// onExpectedTTYTimeout fires the privileged usbserial rebind script — the
// only side-effecting external action this source takes (§4.3). It never
// blocks the caller on the script's completion.
func (s *Source) onExpectedTTYTimeout(locator string, vid, pid uint16) {
	s.mu.Lock()
	delete(s.pending, locator)
	_, stillUnbound := s.known[locator]
	s.mu.Unlock()
	if !stillUnbound {
		return
	}
	script := fmt.Sprintf("rmmod usbserial; modprobe usbserial vendor=0x%04x product=0x%04x", vid, pid)
	cmd := exec.Command("sh", "-c", script)
	go cmd.Run()
}

func matchesVidPid(list []model.VidPid, vid, pid uint16) bool {
	for _, vp := range list {
		if vp.VID == vid && vp.PID == pid {
			return true
		}
	}
	return false
}

func locatorBelongsToDevice(locator, devDir string) bool {
	return strings.HasPrefix(locator, devDir+"/")
}
