// Package task implements the single-consumer worker thread used by the
// ADB correlation task (spec §4.1, component A): a FIFO request queue, an
// optional periodic tick, and a deduplicating conditional re-enqueue.
package task

import (
	"sync"
	"time"

	"github.com/FluidXR/devicewatch/internal/applog"
)

// Handler processes one request. req is nil when the worker woke on its
// periodic tick with an empty queue (§4.1 start_periodic).
type Handler func(req any)

// Worker is a dedicated-goroutine FIFO request processor. The zero value is
// not usable; construct with New.
type Worker struct {
	mu       sync.Mutex
	queue    []any
	running  bool
	consume  bool
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration
	handler  Handler
}

// New creates an idle worker. Call Start or StartPeriodic to begin running.
func New() *Worker {
	return &Worker{wake: make(chan struct{}, 1)}
}

// Start begins running the worker loop on a new goroutine, invoking handler
// for each enqueued request in FIFO order. Calling Start again without an
// intervening Stop is a programmer error (§4.1 invariant) and panics.
func (w *Worker) Start(handler Handler) {
	w.start(0, handler)
}

// StartPeriodic is like Start, but the worker also wakes every interval even
// with no pending request; handler then receives a nil request.
func (w *Worker) StartPeriodic(interval time.Duration, handler Handler) {
	w.start(interval, handler)
}

func (w *Worker) start(interval time.Duration, handler Handler) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		panic("task: Start called without a prior Stop")
	}
	w.running = true
	w.interval = interval
	w.handler = handler
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(w.stop, w.done)
}

// Push unconditionally enqueues req and wakes the worker.
func (w *Worker) Push(req any) {
	w.mu.Lock()
	w.queue = append(w.queue, req)
	w.mu.Unlock()
	w.signal()
}

// PushConditional enqueues req only if no currently queued request satisfies
// predicate, returning whether it was accepted. Used for de-duplicated
// retries (§4.1) so a hot reconnect loop cannot pile up duplicate triggers
// for the same identity.
func (w *Worker) PushConditional(req any, predicate func(any) bool) bool {
	w.mu.Lock()
	for _, q := range w.queue {
		if predicate(q) {
			w.mu.Unlock()
			return false
		}
	}
	w.queue = append(w.queue, req)
	w.mu.Unlock()
	w.signal()
	return true
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// SetConsumeAll controls stop behavior: when true, Stop drains the queue
// before the worker exits; when false (the default) the worker exits once
// the current handler invocation returns, discarding anything still queued.
func (w *Worker) SetConsumeAll(flag bool) {
	w.mu.Lock()
	w.consume = flag
	w.mu.Unlock()
}

// Stop signals the worker to exit and blocks until its goroutine has
// returned.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stop, done := w.stop, w.done
	w.running = false
	w.mu.Unlock()

	close(stop)
	<-done
}

func (w *Worker) loop(stop, done chan struct{}) {
	defer close(done)

	for {
		req, woke, ok := w.next(stop)
		if !ok {
			return
		}
		if woke {
			w.invoke(req)
		}
		if w.drainedAndStopping(stop) {
			return
		}
	}
}

// next waits for the next request, the periodic tick, or shutdown. ok is
// false when the loop must exit immediately (not consuming the remaining
// queue). woke is false when next returned only to let the caller re-check
// the stop/drain condition without a request to process.
func (w *Worker) next(stop chan struct{}) (req any, woke bool, ok bool) {
	w.mu.Lock()
	if len(w.queue) > 0 {
		req, w.queue = w.queue[0], w.queue[1:]
		w.mu.Unlock()
		return req, true, true
	}
	consume := w.consume
	interval := w.interval
	w.mu.Unlock()

	select {
	case <-stop:
		if consume {
			return nil, false, true
		}
		return nil, false, false
	case <-w.wake:
		return nil, false, true
	case <-w.timer(interval):
		return nil, true, true
	}
}

// timer returns a channel that fires once after d, or nil (which blocks
// forever in a select) when no periodic tick is configured.
func (w *Worker) timer(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.After(d)
}

func (w *Worker) drainedAndStopping(stop chan struct{}) bool {
	select {
	case <-stop:
	default:
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.consume && len(w.queue) > 0 {
		return false
	}
	return true
}

func (w *Worker) invoke(req any) {
	defer func() {
		if r := recover(); r != nil {
			// §4.1 "Failure": a handler panic must be observable but must
			// not crash the worker; the next request is still processed.
			applog.Errorf("task: handler panic: %v", r)
		}
	}()
	w.handler(req)
}
