package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/lookout/errors"
)

func TestTracker_Lifecycle(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTrackerWithClock(time.Hour, func() time.Time { return now })

	tr.Accept(&Run{ID: "r1", Images: 3})
	s, ok := tr.Status("r1")
	require.True(t, ok)
	assert.Equal(t, RunStatusAccepted, s.Status)
	assert.Equal(t, 3, s.Images)
	assert.Equal(t, "report_r1.html", s.Report)

	tr.Processing("r1")
	s, _ = tr.Status("r1")
	assert.Equal(t, RunStatusProcessing, s.Status)
	assert.False(t, s.Status.IsTerminal())

	tr.Failed("r1", &PipelineError{RunID: "r1", Stage: StageReport, Err: errors.New("disk full")})
	s, _ = tr.Status("r1")
	assert.Equal(t, RunStatusFailed, s.Status)
	assert.Equal(t, StageReport, s.Stage)
	assert.Contains(t, s.Error, "disk full")

	_, ok = tr.Status("unknown")
	assert.False(t, ok)
	tr.Done("unknown", 1) // no-op
}

func TestTracker_PrunesFinishedRuns(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTrackerWithClock(time.Hour, func() time.Time { return now })

	tr.Accept(&Run{ID: "old"})
	tr.Done("old", 0)
	tr.Accept(&Run{ID: "running"})
	tr.Processing("running")

	now = now.Add(2 * time.Hour)
	tr.Accept(&Run{ID: "new"})

	_, ok := tr.Status("old")
	assert.False(t, ok, "finished run past retention is dropped")
	_, ok = tr.Status("running")
	assert.True(t, ok, "in-flight runs are never dropped")
	assert.Equal(t, 2, tr.Len())
}

func TestSystemMetrics(t *testing.T) {
	orig := memoryStats
	t.Cleanup(func() { memoryStats = orig })

	memoryStats = func() (uint64, uint64, error) { return 8 << 30, 1 << 30, nil }
	m := GetSystemMetrics()
	assert.InDelta(t, 8.0, m.MemoryTotalGB, 0.001)
	assert.InDelta(t, 7.0, m.MemoryUsedGB, 0.001)
	assert.InDelta(t, 87.5, m.MemoryPercent, 0.001)
	assert.Contains(t, checkMemoryPressure(), "1.0 of 8.0GB")

	memoryStats = func() (uint64, uint64, error) { return 16 << 30, 12 << 30, nil }
	assert.Empty(t, checkMemoryPressure())

	memoryStats = func() (uint64, uint64, error) { return 0, 0, errors.New("unsupported") }
	assert.Equal(t, SystemMetrics{}, GetSystemMetrics())
	assert.Empty(t, checkMemoryPressure())
}
