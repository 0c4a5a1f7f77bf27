// Package watcher implements the façade (F, spec §4.6): it wires together
// the OS USB source (C), the enumeration engine (D), and the ADB
// correlation task (E) behind a single start/stop/wait_for surface, and
// mirrors the engine's delta stream into its own cache for wait_for.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/FluidXR/devicewatch/internal/adbproto"
	"github.com/FluidXR/devicewatch/internal/applog"
	"github.com/FluidXR/devicewatch/internal/correlate"
	"github.com/FluidXR/devicewatch/internal/engine"
	"github.com/FluidXR/devicewatch/internal/model"
	"github.com/FluidXR/devicewatch/internal/usbsource"
)

// hostConnectTimeout bounds each host:connect issued for an IPList entry
// during startup (§6 CLI surface).
const hostConnectTimeout = 5 * time.Second

// Watcher is the façade. The zero value is not usable; construct with New.
type Watcher struct {
	mu         sync.Mutex
	cache      map[string]model.DeviceInterface
	waitTarget *model.DeviceInterface
	waitDone   chan model.DeviceInterface

	onEvent func(model.DeviceInterface)

	source     usbsource.Source
	eng        *engine.Engine
	correlator *correlate.Task
	client     *adbproto.Client
}

// New constructs an idle Watcher. Call Start to begin watching.
func New() *Watcher {
	return &Watcher{cache: make(map[string]model.DeviceInterface)}
}

// Start builds the OS source / engine / correlation task pipeline for
// settings, issues any configured host:connect commands, and blocks until
// the OS source reports its initial enumeration complete (§4.6 contract).
// onEvent is invoked once per delta, never while the façade mutex is held.
func (w *Watcher) Start(settings model.WatchSettings, onEvent func(model.DeviceInterface)) error {
	w.mu.Lock()
	w.onEvent = onEvent
	w.mu.Unlock()

	w.client = adbproto.NewClient()
	for _, entry := range settings.IPList {
		// host:connect is a pure host service; it must not go through
		// Command's transport selection, which would block on
		// host:tport:any with nothing attached yet and never reach it.
		msg, err := w.client.HostConnect(context.Background(), entry, hostConnectTimeout)
		if err != nil {
			applog.Warnf("watcher: host:connect %q failed: %v", entry, err)
			continue
		}
		if msg != "" {
			applog.Infof("watcher: %s", msg)
		}
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }

	w.eng = engine.New(settings, w.handleEvent, signalReady)

	if settings.EnableADBCorrelation {
		w.correlator = correlate.New(w.client, w.eng, model.DefaultTransportOption())
		w.eng.SetCorrelator(w.correlator)
		w.correlator.Start()
	}

	src, err := usbsource.NewOSSource(settings)
	if err != nil {
		if w.correlator != nil {
			w.correlator.Stop()
		}
		return err
	}
	w.source = src

	if err := w.source.Start(w.eng); err != nil {
		if w.correlator != nil {
			w.correlator.Stop()
		}
		return err
	}

	<-ready
	return nil
}

// Stop signals the OS source to exit its loop and stops the correlation
// task, joining both (§4.6, §5 "Cancellation").
func (w *Watcher) Stop() {
	if w.source != nil {
		w.source.Stop()
	}
	if w.correlator != nil {
		w.correlator.Stop()
	}
}

// WaitFor blocks until a currently-cached or newly-emitted record matches
// every non-empty field of target, or timeout elapses. A non-positive
// timeout waits indefinitely.
func (w *Watcher) WaitFor(target model.DeviceInterface, timeout time.Duration) (model.DeviceInterface, bool) {
	w.mu.Lock()
	for _, rec := range w.cache {
		if matches(target, rec) {
			w.mu.Unlock()
			return rec, true
		}
	}
	done := make(chan model.DeviceInterface, 1)
	w.waitTarget = &target
	w.waitDone = done
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.waitTarget = nil
		w.waitDone = nil
		w.mu.Unlock()
	}()

	if timeout <= 0 {
		rec := <-done
		return rec, true
	}
	select {
	case rec := <-done:
		return rec, true
	case <-time.After(timeout):
		return model.DeviceInterface{}, false
	}
}

func (w *Watcher) handleEvent(rec model.DeviceInterface) {
	w.mu.Lock()
	if rec.Off {
		delete(w.cache, rec.Identity)
	} else {
		w.cache[rec.Identity] = rec
	}
	var wake chan model.DeviceInterface
	if w.waitTarget != nil && matches(*w.waitTarget, rec) {
		wake = w.waitDone
		w.waitTarget = nil
		w.waitDone = nil
	}
	onEvent := w.onEvent
	w.mu.Unlock()

	if wake != nil {
		wake <- rec
	}
	if onEvent != nil {
		onEvent(rec)
	}
}

// matches implements §4.6's wait_for matching semantics.
func matches(target, rec model.DeviceInterface) bool {
	if target.Identity != "" {
		if target.Identity != rec.Identity &&
			target.Identity != rec.Devpath &&
			target.Identity != rec.Hub &&
			target.Identity != rec.Serial &&
			target.Identity != rec.IP &&
			target.Identity != rec.Driver {
			return false
		}
	}
	if target.Type != 0 && !target.Type.Any(rec.Type) {
		return false
	}
	if target.Hub != "" && target.Hub != rec.Hub {
		return false
	}
	if target.Devpath != "" && target.Devpath != rec.Devpath {
		return false
	}
	if target.IP != "" && target.IP != rec.IP {
		return false
	}
	if target.Port != 0 && target.Port != rec.Port {
		return false
	}
	if target.VID != 0 && target.VID != rec.VID {
		return false
	}
	if target.PID != 0 && target.PID != rec.PID {
		return false
	}
	if target.Serial != "" && target.Serial != rec.Serial {
		return false
	}
	if target.Manufacturer != "" && target.Manufacturer != rec.Manufacturer {
		return false
	}
	if target.Product != "" && target.Product != rec.Product {
		return false
	}
	if target.Model != "" && target.Model != rec.Model {
		return false
	}
	if target.Device != "" && target.Device != rec.Device {
		return false
	}
	if target.Driver != "" && target.Driver != rec.Driver {
		return false
	}
	if target.USBClass != 0 && target.USBClass != rec.USBClass {
		return false
	}
	if target.USBSubClass != 0 && target.USBSubClass != rec.USBSubClass {
		return false
	}
	if target.USBProto != 0 && target.USBProto != rec.USBProto {
		return false
	}
	return true
}
