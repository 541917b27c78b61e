package pipeline

import (
	"sync"
	"time"

	"github.com/teranos/lookout/errors"
)

// RunStatus is the in-memory lifecycle of a run
type RunStatus string

const (
	RunStatusAccepted   RunStatus = "accepted"
	RunStatusProcessing RunStatus = "processing"
	RunStatusDone       RunStatus = "done"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether the run has finished one way or the other
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusFailed
}

// RunState is a snapshot of a tracked run
type RunState struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	Images     int       `json:"images"`
	Detections int       `json:"detections"`
	Error      string    `json:"error,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Report     string    `json:"report"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tracker records run status for polling. It is process-local and starts
// empty on every restart; finished runs past the retention window are
// dropped on the next write.
type Tracker struct {
	mu        sync.RWMutex
	runs      map[string]*RunState
	retention time.Duration
	timeNow   func() time.Time // Injectable for testing
}

// DefaultTrackerRetention keeps finished runs around for a day
const DefaultTrackerRetention = 24 * time.Hour

// NewTracker creates an empty tracker
func NewTracker(retention time.Duration) *Tracker {
	return NewTrackerWithClock(retention, time.Now)
}

// NewTrackerWithClock creates a tracker with injectable clock (for testing)
func NewTrackerWithClock(retention time.Duration, timeNow func() time.Time) *Tracker {
	if retention <= 0 {
		retention = DefaultTrackerRetention
	}
	return &Tracker{
		runs:      make(map[string]*RunState),
		retention: retention,
		timeNow:   timeNow,
	}
}

// Accept registers a newly admitted run
func (t *Tracker) Accept(run *Run) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timeNow()
	t.prune(now)
	t.runs[run.ID] = &RunState{
		RunID:     run.ID,
		Status:    RunStatusAccepted,
		Images:    run.Images,
		Report:    run.ReportName(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Processing marks a run as picked up by its goroutine
func (t *Tracker) Processing(runID string) {
	t.update(runID, func(s *RunState) { s.Status = RunStatusProcessing })
}

// Done marks a run as finished with a report
func (t *Tracker) Done(runID string, detections int) {
	t.update(runID, func(s *RunState) {
		s.Status = RunStatusDone
		s.Detections = detections
	})
}

// Failed marks a run as finished without a report
func (t *Tracker) Failed(runID string, err error) {
	t.update(runID, func(s *RunState) {
		s.Status = RunStatusFailed
		if err != nil {
			s.Error = err.Error()
		}
		var pe *PipelineError
		if errors.As(err, &pe) {
			s.Stage = pe.Stage
		}
	})
}

// Status returns a copy of the run's state
func (t *Tracker) Status(runID string) (RunState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.runs[runID]
	if !ok {
		return RunState{}, false
	}
	return *s, true
}

// Len returns the number of tracked runs
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}

func (t *Tracker) update(runID string, fn func(*RunState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.runs[runID]
	if !ok {
		return
	}
	fn(s)
	s.UpdatedAt = t.timeNow()
}

// prune drops finished runs older than the retention window. Caller holds mu.
func (t *Tracker) prune(now time.Time) {
	for id, s := range t.runs {
		if s.Status.IsTerminal() && now.Sub(s.UpdatedAt) > t.retention {
			delete(t.runs, id)
		}
	}
}
