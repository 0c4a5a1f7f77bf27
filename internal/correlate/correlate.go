// Package correlate implements the ADB correlation task (E, spec §4.5): a
// periodic worker that reconciles the enumeration engine's pending
// USB-ADB interfaces against the ADB server's device list and tracks
// network-ADB devices as first-class entities.
package correlate

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/FluidXR/devicewatch/internal/applog"
	"github.com/FluidXR/devicewatch/internal/engine"
	"github.com/FluidXR/devicewatch/internal/model"
	"github.com/FluidXR/devicewatch/internal/task"
)

const (
	period          = 3 * time.Second
	defaultRetryCap = 60
	backoff         = 100 * time.Millisecond
)

// networkSerialPattern matches an ADB serial of the "<ipv4>:<port>" shape
// that identifies a network-ADB device (§4.5 step 3/4, §8 boundary case).
var networkSerialPattern = regexp.MustCompile(`^(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d{1,5})$`)

// ADBLister is the subset of adbproto.Client the task depends on.
type ADBLister interface {
	ListDevices(ctx context.Context, deviceOnly bool, targetSerial string, launchServerIfNeed bool) ([]model.DeviceInfo, error)
}

// Cache is the engine operations the task needs, implemented by
// *engine.Engine. Kept as an interface so this package never creates an
// import cycle with internal/engine.
type Cache interface {
	Serials() []string
	AddSerial(serial string)
	DropSerial(serial string)
	UpsertNetworkDevice(rec model.DeviceInterface) bool
	RemoveNetworkDeviceByIdentity(identity string)
	EnrichPending(identity string, enrichment model.DeviceInterface) (model.DeviceInterface, bool)
	DropPending(identity string)
}

// Task is the engine.Correlator implementation driving component E.
type Task struct {
	worker   *task.Worker
	client   ADBLister
	cache    Cache
	opt      model.TransportOption
	retryCap int

	mu    sync.Mutex
	fatal bool
}

// New constructs a correlation task. opt selects which ADB server/transport
// host:devices-l is queried against.
func New(client ADBLister, cache Cache, opt model.TransportOption) *Task {
	return &Task{
		worker:   task.New(),
		client:   client,
		cache:    cache,
		opt:      opt,
		retryCap: defaultRetryCap,
	}
}

// Start begins the periodic 3 s correlation tick (§4.5 "Period").
func (t *Task) Start() {
	t.worker.StartPeriodic(period, t.handle)
}

// Stop halts the task, discarding anything still queued.
func (t *Task) Stop() {
	t.worker.Stop()
}

// EnqueueTrigger implements engine.Correlator: pushes a pending USB-ADB
// interface (or removal notice) onto the task queue, deduplicating against
// any trigger already queued for the same identity (§4.1 push_conditional,
// §4.5's "no duplicate trigger for the same identity").
func (t *Task) EnqueueTrigger(tr engine.Trigger) {
	t.worker.PushConditional(tr, func(queued any) bool {
		qt, ok := queued.(engine.Trigger)
		return ok && qt.Identity == tr.Identity
	})
}

func (t *Task) handle(req any) {
	var trigger *engine.Trigger
	if req != nil {
		tr := req.(engine.Trigger)
		trigger = &tr
	}
	t.runTick(trigger)
}

// runTick executes one pass of §4.5's per-tick algorithm.
func (t *Task) runTick(trigger *engine.Trigger) {
	t.mu.Lock()
	fatal := t.fatal
	t.mu.Unlock()
	if fatal {
		return
	}

	// Step 1: an off-trigger only drops bookkeeping; its work is done.
	if trigger != nil && trigger.Off {
		t.cache.DropSerial(trigger.Serial)
		trigger = nil
	}

	devices, err := t.client.ListDevices(context.Background(), true, "", t.opt.LaunchServerIfNeed)
	if err != nil {
		t.mu.Lock()
		t.fatal = true
		t.mu.Unlock()
		applog.Errorf("correlate: host:devices-l failed, stopping correlation task: %v", err)
		go t.Stop() // §7 CorrelationFatal: stop from outside this handler invocation.
		return
	}

	known := t.cache.Serials()
	knownSet := lo.Associate(known, func(s string) (string, bool) { return s, true })
	returned := lo.Associate(devices, func(d model.DeviceInfo) (string, bool) { return d.Serial, true })

	// Step 3: removals.
	for _, s := range known {
		if returned[s] {
			continue
		}
		if m := networkSerialPattern.FindStringSubmatch(s); m != nil {
			t.cache.RemoveNetworkDeviceByIdentity(model.Identity(s))
		}
		t.cache.DropSerial(s)
	}

	// Step 4: additions.
	var candidates []model.DeviceInfo
	for _, d := range devices {
		if knownSet[d.Serial] {
			continue
		}
		if m := networkSerialPattern.FindStringSubmatch(d.Serial); m != nil {
			port, _ := strconv.ParseUint(m[2], 10, 16)
			rec := model.DeviceInterface{
				Identity: model.Identity(d.Serial),
				Type:     model.TypeAdb | model.TypeNet,
				IP:       m[1],
				Port:     uint16(port),
				Serial:   d.Serial,
				Product:  d.Product,
				Model:    d.Model,
				Device:   d.Device,
				USBIf:    -1,
			}
			if t.cache.UpsertNetworkDevice(rec) {
				t.cache.AddSerial(d.Serial)
			}
			continue
		}
		if trigger != nil && (trigger.Serial == "" || trigger.Serial == d.Serial) {
			candidates = append(candidates, d)
		}
	}

	// Step 5: merge the best candidate into the trigger's record.
	if trigger != nil && len(candidates) > 0 {
		best := pickCandidate(candidates, trigger.Serial)
		_, ok := t.cache.EnrichPending(trigger.Identity, model.DeviceInterface{
			Serial:  best.Serial,
			Product: best.Product,
			Model:   best.Model,
			Device:  best.Device,
		})
		if ok {
			t.cache.AddSerial(best.Serial)
			trigger = nil
		}
	}

	// Step 6: retry or give up.
	if trigger != nil {
		if trigger.RetryCount < t.retryCap {
			trigger.RetryCount++
			t.EnqueueTrigger(*trigger)
		} else {
			t.cache.DropPending(trigger.Identity)
		}
		time.Sleep(backoff)
	}
}

// pickCandidate implements §4.5 step 5's tie-break: an exact serial match
// wins outright; otherwise the numerically lowest TransportID wins
// (SPEC_FULL.md §C.2a).
func pickCandidate(candidates []model.DeviceInfo, triggerSerial string) model.DeviceInfo {
	if triggerSerial != "" {
		if exact, ok := lo.Find(candidates, func(d model.DeviceInfo) bool { return d.Serial == triggerSerial }); ok {
			return exact
		}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.TransportID < best.TransportID {
			best = c
		}
	}
	return best
}
