package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gwsu/torc/queue"
)

// waitPollInterval is the liveness poll granularity for Wait.
const waitPollInterval = 50 * time.Millisecond

// worker couples one goroutine, its packet queue, and a two-field state
// machine: state is authoritative, requested carries supervisor intent. The
// demuxer thread is a worker without a queue.
type worker struct {
	name      string
	log       *slog.Logger
	queue     *queue.PacketQueue
	state     atomic.Int32
	requested atomic.Int32
	running   atomic.Bool
}

func newWorker(name string, log *slog.Logger, withQueue bool) *worker {
	w := &worker{
		name: name,
		log:  log.With("worker", name),
	}
	if withQueue {
		w.queue = queue.New()
	}
	w.state.Store(int32(StateNone))
	w.requested.Store(int32(StateNone))
	return w
}

// start runs fn on a new goroutine, tracking liveness for Wait.
func (w *worker) start(fn func()) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer w.running.Store(false)
		fn()
	}()
}

// IsRunning reports whether the goroutine is alive.
func (w *worker) IsRunning() bool { return w.running.Load() }

// State returns the authoritative state.
func (w *worker) State() State { return State(w.state.Load()) }

func (w *worker) setState(s State) { w.state.Store(int32(s)) }

// Requested returns the pending intent.
func (w *worker) Requested() State { return State(w.requested.Load()) }

func (w *worker) setRequested(s State) { w.requested.Store(int32(s)) }

// IsPaused reports whether the worker has acknowledged a pause.
func (w *worker) IsPaused() bool { return w.State() == StatePaused }

// Stop requests termination and wakes the worker. Terminal for the session.
func (w *worker) Stop() {
	w.setRequested(StateStopped)
	w.wake()
}

// Pause requests a pause and wakes the worker.
func (w *worker) Pause() {
	w.setRequested(StatePaused)
	w.wake()
}

// Unpause requests a resume and wakes the worker.
func (w *worker) Unpause() {
	w.setRequested(StateRunning)
	w.wake()
}

func (w *worker) wake() {
	if w.queue != nil {
		w.queue.Wake()
	}
}

// applyRequested consumes a pending Run/Pause intent, transitioning the
// authoritative state. Stop is left in place for the loop's exit checks.
func (w *worker) applyRequested() {
	switch w.Requested() {
	case StateRunning:
		w.setRequested(StateNone)
		w.setState(StateRunning)
	case StatePaused:
		w.setRequested(StateNone)
		w.setState(StatePaused)
	}
}

// awaitWork sleeps on the queue until there is consumable work, a pending
// state request, or an interrupt. Evaluated under the queue lock, so wakeups
// cannot be lost.
func (w *worker) awaitWork(interrupted func() bool) {
	w.queue.AwaitWork(func(queued int) bool {
		if w.Requested() != StateNone || interrupted() {
			return true
		}
		return queued > 0 && w.State() != StatePaused
	})
}

// Wait polls for goroutine exit at 50 ms granularity. ms == 0 waits
// indefinitely. A timeout is logged, not fatal: cleanup proceeds.
func (w *worker) Wait(ms int) bool {
	var deadline time.Time
	if ms > 0 {
		deadline = time.Now().Add(time.Duration(ms) * time.Millisecond)
	}

	for w.running.Load() {
		if ms > 0 && time.Now().After(deadline) {
			w.log.Warn("worker failed to stop in time")
			return false
		}
		time.Sleep(waitPollInterval)
	}
	return true
}
