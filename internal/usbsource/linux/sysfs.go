//go:build linux

package linux

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/FluidXR/devicewatch/internal/usbsource"
)

// sysfsInterface pairs a raw interface with the sysfs path that uniquely
// identifies it for the lifetime of the physical connection. That path is
// the locator handed to usbsource.Sink and, ultimately, hashed into the
// interface's stable identity by the enumeration engine (§4.3, §4.4).
type sysfsInterface struct {
	locator string
	raw     usbsource.RawInterface
}

// scanDevices walks sysfsUSBPath and returns one sysfsInterface per USB
// interface currently present, mirroring the two-level directory layout
// sysfs exposes: "<bus>-<port>[.<port>...]" device directories, each
// holding "<device>:<config>.<interface>" interface directories.
func scanDevices() ([]sysfsInterface, error) {
	entries, err := os.ReadDir(sysfsUSBPath)
	if err != nil {
		return nil, err
	}

	var out []sysfsInterface
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue // hub root or interface directory, not a device directory
		}
		devPath := filepath.Join(sysfsUSBPath, name)
		out = append(out, scanInterfacesOf(name, devPath)...)
	}
	return out, nil
}

// scanInterfacesOf reads the device-level attributes once and emits one
// sysfsInterface per child interface directory, matching the device's own
// Hub port path to every one of its interfaces.
func scanInterfacesOf(deviceName, devPath string) []sysfsInterface {
	vid, _ := readSysfsHexUint16(filepath.Join(devPath, "idVendor"))
	pid, _ := readSysfsHexUint16(filepath.Join(devPath, "idProduct"))
	serial, _ := readSysfsString(filepath.Join(devPath, "serial"))
	manufacturer, _ := readSysfsString(filepath.Join(devPath, "manufacturer"))
	product, _ := readSysfsString(filepath.Join(devPath, "product"))
	numIfaces, numErr := readSysfsUint8(filepath.Join(devPath, "bNumInterfaces"))

	entries, err := os.ReadDir(devPath)
	if err != nil {
		return nil
	}

	var out []sysfsInterface
	for _, entry := range entries {
		ifaceName := entry.Name()
		if !strings.HasPrefix(ifaceName, deviceName+":") {
			continue
		}
		ifacePath := filepath.Join(devPath, ifaceName)
		ifaceNum, err := readSysfsUint8(filepath.Join(ifacePath, "bInterfaceNumber"))
		if err != nil {
			continue
		}
		class, _ := readSysfsHexUint8(filepath.Join(ifacePath, "bInterfaceClass"))
		subclass, _ := readSysfsHexUint8(filepath.Join(ifacePath, "bInterfaceSubClass"))
		proto, _ := readSysfsHexUint8(filepath.Join(ifacePath, "bInterfaceProtocol"))
		usbIf := int(ifaceNum)
		if numErr == nil && numIfaces == 1 {
			usbIf = -1 // single-interface device: not composite
		}

		out = append(out, sysfsInterface{
			locator: ifacePath,
			raw: usbsource.RawInterface{
				VID:          vid,
				PID:          pid,
				Hub:          deviceName,
				Devpath:      ttyDevpath(ifacePath),
				USBClass:     class,
				USBSubClass:  subclass,
				USBProto:     proto,
				USBIf:        usbIf,
				Serial:       serial,
				Manufacturer: manufacturer,
				Product:      product,
				Driver:       readDriverName(ifacePath),
			},
		})
	}
	return out
}

// ttyDevpath reports the /dev/ttyUSBn (or /dev/ttyACMn) node bound to an
// interface, if a tty driver has already claimed it, or "" otherwise. The
// sysfs layout nests a numbered tty directory one level under the
// interface's own "tty" attribute directory.
func ttyDevpath(ifacePath string) string {
	ttyDir := filepath.Join(ifacePath, sysfsTTYPath)
	entries, err := os.ReadDir(ttyDir)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return filepath.Join("/dev", entries[0].Name())
}

// readDriverName resolves the "driver" symlink an interface directory
// carries once a kernel driver has bound to it; empty when unbound.
func readDriverName(ifacePath string) string {
	target, err := os.Readlink(filepath.Join(ifacePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsUint8(path string) (uint8, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

func readSysfsHexUint8(path string) (uint8, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 8)
	return uint8(v), err
}

func readSysfsHexUint16(path string) (uint16, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	return uint16(v), err
}
