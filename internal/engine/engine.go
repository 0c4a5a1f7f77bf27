// Package engine implements the cross-platform enumeration engine (D):
// it normalizes OS USB source events into model.DeviceInterface records,
// classifies device type, applies the filter pipeline, maintains the
// authoritative cache, and dispatches deltas (spec §4.4).
package engine

import (
	"sync"

	"github.com/FluidXR/devicewatch/internal/model"
	"github.com/FluidXR/devicewatch/internal/usbsource"
)

// Trigger carries a pending USB-ADB interface to the correlation task (E),
// per §4.4's "enqueue a trigger on E" rule. Off triggers ask E to drop its
// serial bookkeeping for a record the engine has already retired.
type Trigger struct {
	Identity   string
	Serial     string
	Off        bool
	Record     model.DeviceInterface
	RetryCount int
}

// Correlator is the engine's one-way dependency on the correlation task,
// kept as an interface so engine never imports internal/correlate (§9's
// "rewrite as acyclic message flow" guidance).
type Correlator interface {
	EnqueueTrigger(Trigger)
}

// Engine is usbsource.Sink: it is driven directly by an OS source.
type Engine struct {
	mu sync.Mutex

	settings model.WatchSettings
	onEvent  func(model.DeviceInterface)
	onReady  func()

	interfaces map[string]model.DeviceInterface // live, already-emitted records
	pending    map[string]model.DeviceInterface // USB-ADB records awaiting correlation
	adbSerials []string                          // ordered, as last seen from host:devices-l

	correlator Correlator
}

// New constructs an Engine. onEvent is invoked once per delta, never while
// the engine's internal mutex is held. onReady is invoked once, when the
// underlying OS source finishes its initial enumeration pass.
func New(settings model.WatchSettings, onEvent func(model.DeviceInterface), onReady func()) *Engine {
	return &Engine{
		settings:   settings,
		onEvent:    onEvent,
		onReady:    onReady,
		interfaces: make(map[string]model.DeviceInterface),
		pending:    make(map[string]model.DeviceInterface),
	}
}

// SetCorrelator wires in the ADB correlation task. Must be called before
// Start on the owning usbsource.Source if EnableADBCorrelation is set.
func (e *Engine) SetCorrelator(c Correlator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.correlator = c
}

var _ usbsource.Sink = (*Engine)(nil)

// OnInterfaceEnumerated implements usbsource.Sink (§4.3, §4.4).
func (e *Engine) OnInterfaceEnumerated(locator string, raw usbsource.RawInterface) {
	identity := model.Identity(locator)
	rec := model.DeviceInterface{
		Identity:     identity,
		Type:         classify(raw),
		Hub:          raw.Hub,
		Devpath:      raw.Devpath,
		VID:          raw.VID,
		PID:          raw.PID,
		Serial:       raw.Serial,
		Manufacturer: raw.Manufacturer,
		Product:      raw.Product,
		Driver:       raw.Driver,
		Description:  raw.Description,
		USBClass:     raw.USBClass,
		USBSubClass:  raw.USBSubClass,
		USBProto:     raw.USBProto,
		USBIf:        raw.USBIf,
	}

	if !e.settings.Passes(rec) {
		return
	}

	e.mu.Lock()
	if rec.Type.Has(model.TypeAdb|model.TypeUsb) && e.settings.EnableADBCorrelation {
		e.pending[identity] = rec
		c := e.correlator
		e.mu.Unlock()
		if c != nil {
			c.EnqueueTrigger(Trigger{Identity: identity, Record: rec})
		}
		return
	}
	e.interfaces[identity] = rec
	e.mu.Unlock()

	e.emit(rec)
}

// OnInterfaceOff implements usbsource.Sink (§4.4's removal path).
func (e *Engine) OnInterfaceOff(locator string) {
	identity := model.Identity(locator)

	e.mu.Lock()
	rec, wasLive := e.interfaces[identity]
	pendRec, wasPending := e.pending[identity]
	switch {
	case wasLive:
		delete(e.interfaces, identity)
	case wasPending:
		delete(e.pending, identity)
		rec = pendRec
	default:
		e.mu.Unlock()
		return
	}
	rec.Off = true
	wasAdbUsb := rec.Type.Has(model.TypeAdb|model.TypeUsb)
	suppress := wasPending && !rec.Enriched()
	correlator := e.correlator
	e.mu.Unlock()

	if wasAdbUsb && e.settings.EnableADBCorrelation && correlator != nil {
		correlator.EnqueueTrigger(Trigger{Identity: identity, Off: true, Record: rec, Serial: rec.Serial})
	}
	if suppress {
		return
	}
	e.emit(rec)
}

// OnInitialEnumerationDone implements usbsource.Sink.
func (e *Engine) OnInitialEnumerationDone() {
	if e.onReady != nil {
		e.onReady()
	}
}

func (e *Engine) emit(rec model.DeviceInterface) {
	if e.onEvent != nil {
		e.onEvent(rec)
	}
}

// classify implements §4.4's classification table.
func classify(raw usbsource.RawInterface) model.DeviceType {
	var t model.DeviceType
	if raw.VID != 0 || raw.Hub != "" {
		t |= model.TypeUsb
	}
	if raw.Devpath != "" {
		t |= model.TypeSerial
	}
	if raw.USBClass == 0xFF {
		switch {
		case raw.USBSubClass == 0x42 && raw.USBProto == 0x01:
			t |= model.TypeAdb
		case raw.USBSubClass == 0x42 && raw.USBProto == 0x03:
			t |= model.TypeFastboot
		case raw.USBSubClass == 0x50 && raw.USBProto == 0x01:
			t |= model.TypeHDC
		}
	}
	if raw.VID == 0x05C6 && raw.PID == 0x9008 {
		t |= model.TypeQDL
	}
	return t
}
