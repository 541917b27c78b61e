package pipeline

import "fmt"

// Pipeline stages, in execution order
const (
	StageDetect    = "detect"
	StageSummarize = "summarize"
	StageReport    = "report"
)

// PipelineError is a fatal failure of one run. The run is left without a
// report and is not retried.
type PipelineError struct {
	RunID string
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
