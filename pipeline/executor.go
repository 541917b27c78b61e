package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/db"
	"github.com/teranos/lookout/detect"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
)

// Reporter renders and persists the report for a run
type Reporter interface {
	Render(ctx context.Context, run *Run, summaries []DetectionSummary) (ReportHandle, error)
}

// Notifier raises the zero-detection alarm
type Notifier interface {
	NotifyNoDetections(ctx context.Context, runID string, processed int) error
}

// Archive stores completed-run summaries
type Archive interface {
	RecordRun(ctx context.Context, runID string, summaries []DetectionSummary) error
}

// Publisher mirrors a finished report somewhere else
type Publisher interface {
	Publish(ctx context.Context, key, path string) error
}

// Metrics receives run outcomes
type Metrics interface {
	RunFinished(outcome string, elapsed time.Duration)
}

// Run outcomes reported to Metrics
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

// Executor runs the detection pipeline for one run. Archive, Publisher and
// Metrics are optional.
type Executor struct {
	Detector  detect.Detector
	Reporter  Reporter
	Notifier  Notifier
	Archive   Archive
	Publisher Publisher
	Metrics   Metrics

	logger  *zap.SugaredLogger
	timeNow func() time.Time
}

// NewExecutor wires an executor with the required collaborators
func NewExecutor(detector detect.Detector, reporter Reporter, notifier Notifier) *Executor {
	return &Executor{
		Detector: detector,
		Reporter: reporter,
		Notifier: notifier,
		logger:   logger.ComponentLogger("pipeline.executor"),
		timeNow:  time.Now,
	}
}

// Result is what a finished run produced
type Result struct {
	Report    ReportHandle
	Summaries []DetectionSummary
	Processed int
}

// Execute runs detect, summarize, report and notify for run. The slot is
// released when Execute returns, whichever way it returns, panics included.
func (e *Executor) Execute(ctx context.Context, run *Run, slot *admission.Slot) (result Result, err error) {
	defer slot.Release()

	log := e.log().With(logger.FieldRunID, run.ID, logger.FieldClientID, run.ClientID)
	start := e.now()
	stage := StageDetect

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Pipeline panicked", logger.FieldStage, stage, "panic", r, "stack", string(debug.Stack()))
			err = &PipelineError{RunID: run.ID, Stage: stage, Err: errors.Newf("panic: %v", r)}
		}

		outcome := OutcomeDone
		if err != nil {
			outcome = OutcomeFailed
			log.Errorw("Run failed", logger.FieldStage, stage, logger.FieldError, err)
		}
		if e.Metrics != nil {
			e.Metrics.RunFinished(outcome, e.now().Sub(start))
		}
	}()

	results, err := e.Detector.Detect(ctx, detect.Request{
		SourceDir:  run.SourceDir,
		OutputDir:  run.OutputDir,
		Confidence: run.Confidence,
	})
	if err != nil {
		return Result{}, &PipelineError{RunID: run.ID, Stage: stage, Err: err}
	}

	stage = StageSummarize
	summaries := Summarize(run.ID, results, run.Confidence)

	stage = StageReport
	handle, err := e.Reporter.Render(ctx, run, summaries)
	if err != nil {
		return Result{}, &PipelineError{RunID: run.ID, Stage: stage, Err: err}
	}

	processed := len(results)
	if len(summaries) == 0 && processed > 0 {
		bestEffort(log, "notification", func() error {
			return e.Notifier.NotifyNoDetections(ctx, run.ID, processed)
		})
	}

	e.followUps(ctx, log, run, summaries, handle)

	log.Infow("Run complete",
		logger.FieldCount, len(summaries),
		"processed", processed,
		"report", handle.Name,
		logger.FieldDurationMS, e.now().Sub(start).Milliseconds())

	return Result{Report: handle, Summaries: summaries, Processed: processed}, nil
}

// followUps archives and publishes the run. Failures are logged only.
func (e *Executor) followUps(ctx context.Context, log *zap.SugaredLogger, run *Run, summaries []DetectionSummary, handle ReportHandle) {
	if e.Archive != nil {
		bestEffort(log, "archive", func() error {
			return e.Archive.RecordRun(ctx, run.ID, summaries)
		})
	}
	if e.Publisher != nil {
		bestEffort(log.With(logger.FieldPath, handle.Path), "publish", func() error {
			return e.Publisher.Publish(ctx, handle.Name, handle.Path)
		})
	}
}

// bestEffort runs a step that happens after the report exists. Its error or
// panic is logged under kind and never reaches the run's result. A closed
// archive during shutdown is expected and logged at debug.
func bestEffort(log *zap.SugaredLogger, kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Follow-up panicked",
				logger.FieldErrorKind, kind,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	err := fn()
	switch {
	case err == nil:
	case db.IsDatabaseClosed(err):
		log.Debugw("Follow-up skipped, database closed", logger.FieldErrorKind, kind, logger.FieldError, err)
	default:
		log.Warnw("Follow-up failed", logger.FieldErrorKind, kind, logger.FieldError, err)
	}
}

// Summarize keeps objects scoring at least threshold, in detector order.
// The detector's own filtering is not trusted.
func Summarize(runID string, results []detect.ImageResult, threshold float64) []DetectionSummary {
	summaries := make([]DetectionSummary, 0)
	for _, img := range results {
		ref := filepath.Base(img.Path)
		if runID != "" {
			ref = fmt.Sprintf("%s/%s", runID, ref)
		}
		for _, obj := range img.Objects {
			if obj.Confidence < threshold {
				continue
			}
			summaries = append(summaries, DetectionSummary{
				ImageRef:   ref,
				Label:      obj.Label,
				Confidence: obj.Confidence,
			})
		}
	}
	return summaries
}

func (e *Executor) log() *zap.SugaredLogger {
	if e.logger == nil {
		return logger.ComponentLogger("pipeline.executor")
	}
	return e.logger
}

func (e *Executor) now() time.Time {
	if e.timeNow == nil {
		return time.Now()
	}
	return e.timeNow()
}
