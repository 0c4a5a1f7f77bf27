package watcher

import (
	"testing"
	"time"

	"github.com/FluidXR/devicewatch/internal/model"
)

func TestMatchesScalarFields(t *testing.T) {
	rec := model.DeviceInterface{
		Identity: "abc123",
		Type:     model.TypeUsb | model.TypeAdb,
		Serial:   "HT12345",
		VID:      0x18D1,
	}

	if !matches(model.DeviceInterface{}, rec) {
		t.Fatal("empty target should match everything")
	}
	if !matches(model.DeviceInterface{Serial: "HT12345"}, rec) {
		t.Fatal("exact serial should match")
	}
	if matches(model.DeviceInterface{Serial: "other"}, rec) {
		t.Fatal("mismatched serial should not match")
	}
	if !matches(model.DeviceInterface{Type: model.TypeAdb}, rec) {
		t.Fatal("overlapping type mask should match")
	}
	if matches(model.DeviceInterface{Type: model.TypeFastboot}, rec) {
		t.Fatal("disjoint type mask should not match")
	}
}

func TestMatchesIdentityAliases(t *testing.T) {
	rec := model.DeviceInterface{Identity: "abc123", Devpath: "/dev/ttyACM0", Hub: "USB1-3"}

	if !matches(model.DeviceInterface{Identity: "/dev/ttyACM0"}, rec) {
		t.Fatal("identity field should match against devpath too")
	}
	if !matches(model.DeviceInterface{Identity: "USB1-3"}, rec) {
		t.Fatal("identity field should match against hub too")
	}
	if matches(model.DeviceInterface{Identity: "nope"}, rec) {
		t.Fatal("unrelated identity token should not match")
	}
}

func TestWaitForReturnsImmediatelyFromMirrorCache(t *testing.T) {
	w := New()
	w.cache["id1"] = model.DeviceInterface{Identity: "id1", Serial: "HT12345"}

	rec, ok := w.WaitFor(model.DeviceInterface{Serial: "HT12345"}, time.Second)
	if !ok || rec.Identity != "id1" {
		t.Fatalf("expected immediate match from cache, got %+v ok=%v", rec, ok)
	}
}

func TestWaitForWakesOnMatchingEvent(t *testing.T) {
	w := New()

	result := make(chan model.DeviceInterface, 1)
	go func() {
		rec, ok := w.WaitFor(model.DeviceInterface{Serial: "HT99999"}, 2*time.Second)
		if ok {
			result <- rec
		}
		close(result)
	}()

	// give WaitFor time to register its target before the event arrives
	time.Sleep(20 * time.Millisecond)
	w.handleEvent(model.DeviceInterface{Identity: "id2", Serial: "HT99999"})

	select {
	case rec := <-result:
		if rec.Identity != "id2" {
			t.Fatalf("unexpected woken record: %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not wake on matching event")
	}
}

func TestWaitForTimesOutWithoutMatch(t *testing.T) {
	w := New()
	_, ok := w.WaitFor(model.DeviceInterface{Serial: "never"}, 20*time.Millisecond)
	if ok {
		t.Fatal("expected timeout, got a match")
	}
}

func TestHandleEventForwardsToSubscriberAndUpdatesCacheOnRemoval(t *testing.T) {
	var seen []model.DeviceInterface
	w := New()
	w.onEvent = func(d model.DeviceInterface) { seen = append(seen, d) }

	w.handleEvent(model.DeviceInterface{Identity: "id3", Serial: "X"})
	if _, ok := w.cache["id3"]; !ok {
		t.Fatal("expected record cached after create event")
	}

	w.handleEvent(model.DeviceInterface{Identity: "id3", Serial: "X", Off: true})
	if _, ok := w.cache["id3"]; ok {
		t.Fatal("expected record evicted after off event")
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", len(seen))
	}
}
