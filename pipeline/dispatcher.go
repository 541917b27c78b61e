package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/logger"
)

// RunExecutor executes one admitted run
type RunExecutor interface {
	Execute(ctx context.Context, run *Run, slot *admission.Slot) (Result, error)
}

// Dispatcher hands admitted runs to background goroutines. Runs are detached
// from the request that submitted them; they stop only when the dispatcher's
// root context is cancelled.
type Dispatcher struct {
	executor RunExecutor
	tracker  *Tracker
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	active  int
	stopped bool
}

// NewDispatcher creates a dispatcher whose runs derive from parent
func NewDispatcher(parent context.Context, executor RunExecutor, tracker *Tracker) *Dispatcher {
	ctx, cancel := context.WithCancel(parent)
	if tracker == nil {
		tracker = NewTracker(DefaultTrackerRetention)
	}

	d := &Dispatcher{
		executor: executor,
		tracker:  tracker,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.ComponentLogger("pipeline.dispatcher"),
	}

	if warning := checkMemoryPressure(); warning != "" {
		d.logger.Warnw("Memory pressure warning", "warning", warning)
	}
	return d
}

// Submit starts run in the background and returns immediately. The slot is
// owned by the run from here on. After Stop the run is marked failed and the
// slot released without executing.
func (d *Dispatcher) Submit(run *Run, slot *admission.Slot) {
	d.tracker.Accept(run)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		slot.Release()
		d.tracker.Failed(run.ID, context.Canceled)
		d.logger.Warnw("Run submitted after shutdown, dropped", logger.FieldRunID, run.ID)
		return
	}
	d.active++
	d.wg.Add(1)
	d.mu.Unlock()

	go d.execute(run, slot)
}

func (d *Dispatcher) execute(run *Run, slot *admission.Slot) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	ctx := logger.WithRunID(d.ctx, run.ID)
	d.tracker.Processing(run.ID)

	result, err := d.executor.Execute(ctx, run, slot)
	if err != nil {
		d.tracker.Failed(run.ID, err)
		return
	}
	d.tracker.Done(run.ID, len(result.Summaries))
}

// Status returns the tracked state of a run
func (d *Dispatcher) Status(runID string) (RunState, bool) {
	return d.tracker.Status(runID)
}

// Active returns the number of runs currently executing
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Stop cancels the root context and waits up to timeout for in-flight runs.
// It reports whether every run exited in time.
func (d *Dispatcher) Stop(timeout time.Duration) bool {
	d.mu.Lock()
	d.stopped = true
	active := d.active
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Infow("Dispatcher stopped, all runs exited", "drained", active)
		return true
	case <-time.After(timeout):
		d.logger.Warnw("Dispatcher stop timed out, runs still exiting", "timeout", timeout, "active", d.Active())
		return false
	}
}
