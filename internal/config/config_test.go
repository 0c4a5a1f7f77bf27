package config

import (
	"testing"

	"github.com/FluidXR/devicewatch/internal/model"
)

func TestToWatchSettingsRoundTrip(t *testing.T) {
	cfg := &Config{
		Types:                []string{"adb,fastboot", "serial"},
		Vids:                 []string{"0x18D1", "!0x05C6"},
		Pids:                 []string{"4999"},
		Drivers:              []string{"cdc_acm"},
		EnableADBCorrelation: true,
		AllowModprobe:        true,
		UsbserialVidPid:      []string{"0x067B:0x2303"},
		IPList:               []string{"10.0.0.5:5555"},
	}

	settings, err := cfg.ToWatchSettings()
	if err != nil {
		t.Fatalf("ToWatchSettings: %v", err)
	}
	if len(settings.TypeFilters) != 2 {
		t.Fatalf("expected 2 type filter masks, got %d", len(settings.TypeFilters))
	}
	if !settings.TypeFilters[0].Has(model.TypeAdb | model.TypeFastboot) {
		t.Fatalf("expected first mask to AND adb+fastboot, got %v", settings.TypeFilters[0])
	}
	if !settings.TypeFilters[1].Has(model.TypeSerial) {
		t.Fatalf("expected second mask to be serial, got %v", settings.TypeFilters[1])
	}
	if len(settings.IncludeVids) != 1 || settings.IncludeVids[0] != 0x18D1 {
		t.Fatalf("unexpected include vids: %v", settings.IncludeVids)
	}
	if len(settings.ExcludeVids) != 1 || settings.ExcludeVids[0] != 0x05C6 {
		t.Fatalf("unexpected exclude vids: %v", settings.ExcludeVids)
	}
	if len(settings.IncludePids) != 1 || settings.IncludePids[0] != 4999 {
		t.Fatalf("unexpected include pids: %v", settings.IncludePids)
	}
	if !settings.EnableADBCorrelation || !settings.AllowModprobe {
		t.Fatal("expected both bool flags carried through")
	}
	if len(settings.UsbserialVidPid) != 1 || settings.UsbserialVidPid[0].VID != 0x067B || settings.UsbserialVidPid[0].PID != 0x2303 {
		t.Fatalf("unexpected usbserial vidpid: %v", settings.UsbserialVidPid)
	}
	if len(settings.IPList) != 1 || settings.IPList[0] != "10.0.0.5:5555" {
		t.Fatalf("unexpected ip list: %v", settings.IPList)
	}

	back := FromWatchSettings(settings)
	settings2, err := back.ToWatchSettings()
	if err != nil {
		t.Fatalf("round-trip ToWatchSettings: %v", err)
	}
	if len(settings2.TypeFilters) != len(settings.TypeFilters) {
		t.Fatalf("round trip lost type filters: %v vs %v", settings2.TypeFilters, settings.TypeFilters)
	}
}

func TestToWatchSettingsRejectsMalformedVidPidPair(t *testing.T) {
	cfg := &Config{UsbserialVidPid: []string{"not-a-pair"}}
	if _, err := cfg.ToWatchSettings(); err == nil {
		t.Fatal("expected an error for a malformed usbserial_vidpid entry")
	}
}

func TestDefaultConfigPassesEverything(t *testing.T) {
	settings, err := DefaultConfig().ToWatchSettings()
	if err != nil {
		t.Fatalf("ToWatchSettings: %v", err)
	}
	rec := model.DeviceInterface{Type: model.TypeUsb, VID: 1, PID: 2}
	if !settings.Passes(rec) {
		t.Fatal("default config should filter nothing")
	}
}
