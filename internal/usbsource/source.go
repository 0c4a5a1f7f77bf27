// Package usbsource declares the platform-independent contract every OS
// USB enumerator (component C, spec §4.3) implements, plus the
// EnumerationInitError raised when a platform source fails to initialize.
// Concrete sources live in per-GOOS subpackages (usbsource/linux today;
// other platforms are a documented gap — see DESIGN.md).
package usbsource

import "fmt"

// RawInterface is the per-interface data an OS source collects before the
// enumeration engine (component D) classifies, filters, and caches it
// (§4.3 "Per-interface data collected"). The source itself never
// classifies a device's type bitset — that is the engine's job.
type RawInterface struct {
	VID, PID uint16

	Hub     string // enumerated USB port path, e.g. "USB1-3-2"
	Devpath string // OS device node, e.g. a serial tty path

	USBClass    uint8
	USBSubClass uint8
	USBProto    uint8
	USBIf       int // interface number; -1 when not a composite interface

	Serial, Manufacturer, Product, Driver, Description string
}

// Sink receives raw OS events from a Source. locator is an opaque
// platform-specific string uniquely identifying the interface; the engine
// hashes it to produce the interface's stable Identity (§3, §4.4).
type Sink interface {
	OnInterfaceEnumerated(locator string, raw RawInterface)
	OnInterfaceOff(locator string)
	OnInitialEnumerationDone()
}

// Source is a platform-specific USB (and, on Linux, usbserial tty) event
// enumerator (component C). Start performs an initial enumeration — one
// synthetic arrival per currently-present interface — signals
// OnInitialEnumerationDone, then reacts to OS events until Stop is called.
type Source interface {
	Start(sink Sink) error
	Stop()
}

// EnumerationInitError reports a platform-source startup failure: unable
// to bind a netlink socket, register a window class, or open an eventfd
// (§7). The watcher façade's Start returns failure when this occurs.
type EnumerationInitError struct {
	Err error
}

func (e *EnumerationInitError) Error() string {
	return fmt.Sprintf("usbsource: initialization failed: %v", e.Err)
}

func (e *EnumerationInitError) Unwrap() error { return e.Err }
