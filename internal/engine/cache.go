package engine

import "github.com/FluidXR/devicewatch/internal/model"

// Serials returns a snapshot of the ADB-server-visible serials observed on
// the previous correlation poll (§3's adb_serials cache).
func (e *Engine) Serials() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.adbSerials))
	copy(out, e.adbSerials)
	return out
}

// AddSerial records serial as ADB-server-visible, if not already tracked.
func (e *Engine) AddSerial(serial string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.adbSerials {
		if s == serial {
			return
		}
	}
	e.adbSerials = append(e.adbSerials, serial)
}

// DropSerial removes serial from the adb_serials bookkeeping list only; it
// does not touch the interfaces cache (§4.5 step 1 and step 3).
func (e *Engine) DropSerial(serial string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.adbSerials {
		if s == serial {
			e.adbSerials = append(e.adbSerials[:i], e.adbSerials[i+1:]...)
			return
		}
	}
}

// UpsertNetworkDevice inserts or refreshes a network-ADB interface (§4.5
// step 4's "ip:port" branch), running it through the filter pipeline
// first. Returns false if the record was filtered out.
func (e *Engine) UpsertNetworkDevice(rec model.DeviceInterface) bool {
	if !e.settings.Passes(rec) {
		return false
	}
	e.mu.Lock()
	e.interfaces[rec.Identity] = rec
	e.mu.Unlock()
	e.emit(rec)
	return true
}

// RemoveNetworkDeviceByIdentity retires a network-ADB interface that has
// disappeared from the ADB server's device list (§4.5 step 3). A no-op if
// the identity is not currently live.
func (e *Engine) RemoveNetworkDeviceByIdentity(identity string) {
	e.mu.Lock()
	rec, ok := e.interfaces[identity]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.interfaces, identity)
	e.mu.Unlock()

	rec.Off = true
	e.emit(rec)
}

// PendingRecord looks up a USB-ADB interface still awaiting correlation.
func (e *Engine) PendingRecord(identity string) (model.DeviceInterface, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.pending[identity]
	return rec, ok
}

// EnrichPending merges ADB-server-provided identity fields into a pending
// USB-ADB record, moves it into the live cache, and emits its first (and
// only) creation delta (§4.4, §4.5 step 5). Returns false if identity was
// not pending — it may have already been retired by a concurrent removal.
func (e *Engine) EnrichPending(identity string, enrichment model.DeviceInterface) (model.DeviceInterface, bool) {
	e.mu.Lock()
	rec, ok := e.pending[identity]
	if !ok {
		e.mu.Unlock()
		return model.DeviceInterface{}, false
	}
	delete(e.pending, identity)
	merged := rec.MergeEnrichment(enrichment)
	e.interfaces[identity] = merged
	e.mu.Unlock()

	e.emit(merged)
	return merged, true
}

// DropPending discards a USB-ADB record whose correlation retries were
// exhausted with no match. Per §8 scenario 3 it is never emitted — the
// engine never announced it, so there is nothing to retract.
func (e *Engine) DropPending(identity string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, identity)
}
