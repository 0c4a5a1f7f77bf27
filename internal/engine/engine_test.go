package engine

import (
	"testing"

	"github.com/FluidXR/devicewatch/internal/model"
	"github.com/FluidXR/devicewatch/internal/usbsource"
)

type fakeCorrelator struct {
	triggers []Trigger
}

func (f *fakeCorrelator) EnqueueTrigger(t Trigger) {
	f.triggers = append(f.triggers, t)
}

func adbRaw() usbsource.RawInterface {
	return usbsource.RawInterface{
		VID: 0x18D1, PID: 0x4EE7,
		Hub:         "USB1-3",
		USBClass:    0xFF,
		USBSubClass: 0x42,
		USBProto:    0x01,
	}
}

func TestClassifyRules(t *testing.T) {
	cases := []struct {
		name string
		raw  usbsource.RawInterface
		want model.DeviceType
	}{
		{"adb", usbsource.RawInterface{VID: 1, USBClass: 0xFF, USBSubClass: 0x42, USBProto: 0x01}, model.TypeUsb | model.TypeAdb},
		{"fastboot", usbsource.RawInterface{VID: 1, USBClass: 0xFF, USBSubClass: 0x42, USBProto: 0x03}, model.TypeUsb | model.TypeFastboot},
		{"hdc", usbsource.RawInterface{VID: 1, USBClass: 0xFF, USBSubClass: 0x50, USBProto: 0x01}, model.TypeUsb | model.TypeHDC},
		{"qdl", usbsource.RawInterface{VID: 0x05C6, PID: 0x9008}, model.TypeUsb | model.TypeQDL},
		{"serial tty", usbsource.RawInterface{VID: 1, Devpath: "/dev/ttyACM0"}, model.TypeUsb | model.TypeSerial},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classify(c.raw); got != c.want {
				t.Fatalf("classify(%+v) = %v, want %v", c.raw, got, c.want)
			}
		})
	}
}

func TestFilterRejectionSuppressesEmitAndTrigger(t *testing.T) {
	var events []model.DeviceInterface
	settings := model.WatchSettings{IncludeVids: []uint16{0x18D1}, EnableADBCorrelation: true}
	e := New(settings, func(d model.DeviceInterface) { events = append(events, d) }, nil)
	fc := &fakeCorrelator{}
	e.SetCorrelator(fc)

	raw := adbRaw()
	raw.VID = 0x04E8 // not in include list
	e.OnInterfaceEnumerated("locatorX", raw)

	if len(events) != 0 {
		t.Fatalf("expected no emit, got %d", len(events))
	}
	if len(fc.triggers) != 0 {
		t.Fatalf("expected no trigger, got %d", len(fc.triggers))
	}
}

func TestUSBADBArrivalWithoutCorrelationEmitsDirectly(t *testing.T) {
	var events []model.DeviceInterface
	e := New(model.WatchSettings{}, func(d model.DeviceInterface) { events = append(events, d) }, nil)

	e.OnInterfaceEnumerated("locatorX", adbRaw())
	if len(events) != 1 {
		t.Fatalf("expected 1 emit, got %d", len(events))
	}
	if events[0].Serial != "" || !events[0].Type.Has(model.TypeAdb|model.TypeUsb) {
		t.Fatalf("unexpected record: %+v", events[0])
	}
}

func TestUSBADBArrivalWithCorrelationWithholdsEmitUntilEnriched(t *testing.T) {
	var events []model.DeviceInterface
	settings := model.WatchSettings{EnableADBCorrelation: true}
	e := New(settings, func(d model.DeviceInterface) { events = append(events, d) }, nil)
	fc := &fakeCorrelator{}
	e.SetCorrelator(fc)

	e.OnInterfaceEnumerated("locatorX", adbRaw())
	if len(events) != 0 {
		t.Fatalf("expected no emit before enrichment, got %d", len(events))
	}
	if len(fc.triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(fc.triggers))
	}
	identity := fc.triggers[0].Identity

	rec, ok := e.PendingRecord(identity)
	if !ok {
		t.Fatal("expected pending record")
	}
	merged, ok := e.EnrichPending(identity, model.DeviceInterface{Serial: "HT12345", Model: "Pixel", Device: "sargo", Product: "sargo"})
	if !ok {
		t.Fatal("EnrichPending failed")
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 emit after enrichment, got %d", len(events))
	}
	if merged.Model != "Pixel" || merged.Serial != "HT12345" {
		t.Fatalf("unexpected merged record: %+v", merged)
	}
	if rec.Model != "" {
		t.Fatalf("pending record should be unenriched before merge, got %+v", rec)
	}
}

func TestRemovalSuppressedWhenNeverEnriched(t *testing.T) {
	var events []model.DeviceInterface
	settings := model.WatchSettings{EnableADBCorrelation: true}
	e := New(settings, func(d model.DeviceInterface) { events = append(events, d) }, nil)
	fc := &fakeCorrelator{}
	e.SetCorrelator(fc)

	e.OnInterfaceEnumerated("locatorX", adbRaw())
	e.OnInterfaceOff("locatorX")

	if len(events) != 0 {
		t.Fatalf("expected no emit at all (create suppressed by correlation hold, removal suppressed by never-enriched rule), got %d", len(events))
	}
	if len(fc.triggers) != 2 {
		t.Fatalf("expected arrival trigger + off trigger, got %d", len(fc.triggers))
	}
	if !fc.triggers[1].Off {
		t.Fatalf("expected second trigger to be an off trigger: %+v", fc.triggers[1])
	}
}

func TestRemovalEmittedWhenEnriched(t *testing.T) {
	var events []model.DeviceInterface
	settings := model.WatchSettings{EnableADBCorrelation: true}
	e := New(settings, func(d model.DeviceInterface) { events = append(events, d) }, nil)
	fc := &fakeCorrelator{}
	e.SetCorrelator(fc)

	e.OnInterfaceEnumerated("locatorX", adbRaw())
	identity := fc.triggers[0].Identity
	e.EnrichPending(identity, model.DeviceInterface{Serial: "HT12345", Model: "Pixel", Device: "sargo"})

	e.OnInterfaceOff("locatorX")

	if len(events) != 2 {
		t.Fatalf("expected create + remove emit, got %d", len(events))
	}
	if events[1].Off != true || events[1].Identity != events[0].Identity {
		t.Fatalf("unexpected removal event: %+v", events[1])
	}
}

func TestPlainUSBInterfacePassesFiltersAndEmitsOnCreateAndRemove(t *testing.T) {
	var events []model.DeviceInterface
	e := New(model.WatchSettings{}, func(d model.DeviceInterface) { events = append(events, d) }, nil)

	e.OnInterfaceEnumerated("locatorY", usbsource.RawInterface{VID: 0x1234, PID: 0x5678, Hub: "USB1-2"})
	e.OnInterfaceOff("locatorY")

	if len(events) != 2 || events[0].Off || !events[1].Off {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestOnInitialEnumerationDoneCallsOnReady(t *testing.T) {
	called := false
	e := New(model.WatchSettings{}, nil, func() { called = true })
	e.OnInitialEnumerationDone()
	if !called {
		t.Fatal("onReady was not called")
	}
}
