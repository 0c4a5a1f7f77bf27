//go:build linux

package linux

import (
	"os"
	"path/filepath"
	"testing"
)

// writeAttr creates a single-line sysfs attribute file under dir/name.
func writeAttr(t *testing.T, dir, name, value string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644); err != nil {
		t.Fatalf("write attr %s: %v", name, err)
	}
}

// buildFixtureTree lays out a minimal sysfs USB tree with one composite
// device (an ADB interface plus a serial interface bound to a tty) under a
// temp dir, then points sysfsUSBPath at it for the duration of the test.
func buildFixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	dev := filepath.Join(root, "1-3")
	if err := os.MkdirAll(dev, 0o755); err != nil {
		t.Fatalf("mkdir device: %v", err)
	}
	writeAttr(t, dev, "idVendor", "18d1")
	writeAttr(t, dev, "idProduct", "4ee7")
	writeAttr(t, dev, "serial", "HT12345")
	writeAttr(t, dev, "manufacturer", "Google")
	writeAttr(t, dev, "product", "Pixel")

	adbIf := filepath.Join(dev, "1-3:1.0")
	if err := os.MkdirAll(adbIf, 0o755); err != nil {
		t.Fatalf("mkdir adb interface: %v", err)
	}
	writeAttr(t, adbIf, "bInterfaceNumber", "00")
	writeAttr(t, adbIf, "bInterfaceClass", "ff")
	writeAttr(t, adbIf, "bInterfaceSubClass", "42")
	writeAttr(t, adbIf, "bInterfaceProtocol", "01")

	ttyIf := filepath.Join(dev, "1-3:1.1")
	if err := os.MkdirAll(filepath.Join(ttyIf, "tty", "ttyACM0"), 0o755); err != nil {
		t.Fatalf("mkdir tty interface: %v", err)
	}
	writeAttr(t, ttyIf, "bInterfaceNumber", "01")
	writeAttr(t, ttyIf, "bInterfaceClass", "02")
	writeAttr(t, ttyIf, "bInterfaceSubClass", "02")
	writeAttr(t, ttyIf, "bInterfaceProtocol", "00")

	old := sysfsUSBPath
	sysfsUSBPath = root
	t.Cleanup(func() { sysfsUSBPath = old })
	return root
}

func TestScanDevicesFindsBothInterfaces(t *testing.T) {
	buildFixtureTree(t)

	ifaces, err := scanDevices()
	if err != nil {
		t.Fatalf("scanDevices: %v", err)
	}
	if len(ifaces) != 2 {
		t.Fatalf("got %d interfaces, want 2", len(ifaces))
	}

	byIfNum := make(map[int]sysfsInterface, len(ifaces))
	for _, iface := range ifaces {
		byIfNum[iface.raw.USBIf] = iface
		if iface.raw.VID != 0x18d1 || iface.raw.PID != 0x4ee7 {
			t.Errorf("unexpected vid/pid: %04x:%04x", iface.raw.VID, iface.raw.PID)
		}
		if iface.raw.Serial != "HT12345" {
			t.Errorf("unexpected serial %q", iface.raw.Serial)
		}
	}

	adb, ok := byIfNum[0]
	if !ok {
		t.Fatal("missing interface 0")
	}
	if adb.raw.USBClass != 0xff || adb.raw.USBSubClass != 0x42 {
		t.Fatalf("unexpected adb class/subclass: %#x/%#x", adb.raw.USBClass, adb.raw.USBSubClass)
	}

	tty, ok := byIfNum[1]
	if !ok {
		t.Fatal("missing interface 1")
	}
	if tty.raw.Devpath != "/dev/ttyACM0" {
		t.Fatalf("tty devpath = %q, want /dev/ttyACM0", tty.raw.Devpath)
	}
}

func TestScanDevicesSkipsHubRootsAndInterfaceDirs(t *testing.T) {
	root := buildFixtureTree(t)
	if err := os.MkdirAll(filepath.Join(root, "usb1"), 0o755); err != nil {
		t.Fatalf("mkdir hub root: %v", err)
	}

	ifaces, err := scanDevices()
	if err != nil {
		t.Fatalf("scanDevices: %v", err)
	}
	for _, iface := range ifaces {
		if filepath.Base(filepath.Dir(iface.locator)) == "usb1" {
			t.Fatalf("hub root leaked into results: %+v", iface)
		}
	}
}
