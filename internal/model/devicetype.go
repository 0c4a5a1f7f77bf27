// Package model holds the data shapes shared by every component of the
// device watcher: the device-interface record, its type bitset, the
// embedder-supplied filter settings, and the ADB transport selector.
package model

import "strings"

// DeviceType is a bitset over the hardware/protocol classes a DeviceInterface
// can belong to. A single interface commonly carries more than one bit (e.g.
// a USB-ADB interface is Usb|Adb).
type DeviceType uint32

const (
	TypeNone DeviceType = 0

	TypeUsb      DeviceType = 1 << 0
	TypeNet      DeviceType = 1 << 1
	TypeSerial   DeviceType = 1 << 2
	TypeAdb      DeviceType = 1 << 3
	TypeFastboot DeviceType = 1 << 4
	TypeHDC      DeviceType = 1 << 5
	TypeDiag     DeviceType = 1 << 6
	TypeQDL      DeviceType = 1 << 7
)

// typeOrder pairs each bit with its wire-format name, in the fixed rendering
// order required by §6: usb, net, serial, adb, fastboot, hdc, diag, qdl.
var typeOrder = []struct {
	bit  DeviceType
	name string
}{
	{TypeUsb, "usb"},
	{TypeNet, "net"},
	{TypeSerial, "serial"},
	{TypeAdb, "adb"},
	{TypeFastboot, "fastboot"},
	{TypeHDC, "hdc"},
	{TypeDiag, "diag"},
	{TypeQDL, "qdl"},
}

// Has reports whether all bits in mask are set on t.
func (t DeviceType) Has(mask DeviceType) bool {
	return t&mask == mask
}

// Any reports whether any bit in mask is set on t.
func (t DeviceType) Any(mask DeviceType) bool {
	return t&mask != 0
}

// String renders the type as a lowercase, comma-joined list in the fixed
// order from §6. An empty bitset renders as the empty string.
func (t DeviceType) String() string {
	if t == TypeNone {
		return ""
	}
	var b strings.Builder
	for _, e := range typeOrder {
		if t.Any(e.bit) {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(e.name)
		}
	}
	return b.String()
}

// ParseDeviceType is the inverse of String: a comma-joined list of type
// names (case-insensitive, any order, extra whitespace ignored) back into a
// bitset. Unknown tokens are ignored, mirroring the CLI's lenient flag
// parsing (§6).
func ParseDeviceType(s string) DeviceType {
	var t DeviceType
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		for _, e := range typeOrder {
			if e.name == tok {
				t |= e.bit
				break
			}
		}
	}
	return t
}
