// Package commands implements the lookout CLI commands.
package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/archive"
	"github.com/teranos/lookout/detect"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/metrics"
	"github.com/teranos/lookout/notify"
	"github.com/teranos/lookout/pipeline"
	"github.com/teranos/lookout/report"
	"github.com/teranos/lookout/search"
	"github.com/teranos/lookout/storage"
	"github.com/teranos/lookout/upload"
)

// loadConfig reads the cascade plus --config and validates it
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, err := am.Load(explicit)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogging builds the global logger. -v flags win over logging.level.
func initLogging(cmd *cobra.Command, cfg *am.Config, defaultVerbosity int) (int, error) {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = defaultVerbosity
	}

	level := logger.VerbosityToLevel(verbosity)
	if !cmd.Flags().Changed("verbose") && cfg.Logging.Level != "" {
		level = logger.ParseLevel(cfg.Logging.Level)
	}

	opts := logger.Options{JSON: cfg.Logging.JSON, Level: level}
	if cfg.Logging.File != "" {
		opts.File = &logger.FileOptions{Path: cfg.Paths.Resolve(cfg.Logging.File)}
	}
	if err := logger.InitializeWithOptions(opts); err != nil {
		return verbosity, errors.Wrap(err, "failed to initialize logger")
	}
	if level == zapcore.DebugLevel {
		logger.Debugw("Logger initialized", "json", cfg.Logging.JSON, "file", cfg.Logging.File)
	}
	return verbosity, nil
}

// app is everything a run needs, wired from config
type app struct {
	cfg        *am.Config
	policy     *upload.Policy
	validator  *upload.Validator
	admission  *admission.Controller
	executor   *pipeline.Executor
	tracker    *pipeline.Tracker
	metrics    *metrics.Metrics
	search     *search.PexelsClient
	archive    *archive.Store
	reportsDir string
}

// buildApp wires collaborators. Archive, S3 and SMTP are left out when
// their config is empty.
func buildApp(ctx context.Context, cfg *am.Config) (*app, error) {
	policy, err := upload.PolicyFromConfig(cfg.Upload)
	if err != nil {
		return nil, err
	}

	det, err := detect.NewCommandDetector(cfg.Detector, cfg.Paths.Resolve(cfg.Detector.ModelPath()))
	if err != nil {
		return nil, err
	}

	reportsDir := cfg.Paths.Resolve(cfg.Paths.ReportsDir)
	incomingDir := filepath.Join(cfg.Paths.Resolve(cfg.Paths.InputDir), ".incoming")
	for _, dir := range []string{
		incomingDir,
		cfg.Paths.Resolve(cfg.Paths.ProcessedDir),
		reportsDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	var notifier pipeline.Notifier = notify.Nop{}
	if smtp := notify.NewSMTPNotifier(cfg.Notify); smtp.Configured() {
		notifier = smtp
	} else {
		logger.Infow("No-detection alerts disabled (notify.smtp_* not set)")
	}

	ctrl := admission.NewController()
	m := metrics.New(ctrl.Busy)

	reporter := report.NewHTMLReporter(reportsDir)
	reporter.MaxPixels = policy.MaxPixels()

	exec := pipeline.NewExecutor(det, reporter, notifier)
	exec.Metrics = m

	a := &app{
		cfg:        cfg,
		policy:     policy,
		validator:  &upload.Validator{TempDir: incomingDir},
		admission:  ctrl,
		executor:   exec,
		tracker:    pipeline.NewTracker(pipeline.DefaultTrackerRetention),
		metrics:    m,
		search:     search.NewPexelsClient(cfg.Search, nil),
		reportsDir: reportsDir,
	}

	if cfg.Archive.Path != "" {
		store, err := archive.Open(cfg.Paths.Resolve(cfg.Archive.Path))
		if err != nil {
			return nil, err
		}
		a.archive = store
		exec.Archive = store
	}

	publisher, err := storage.NewS3Publisher(ctx, cfg.Storage.S3)
	if err != nil {
		a.close()
		return nil, err
	}
	if publisher != nil {
		exec.Publisher = publisher
	}

	if !a.search.Configured() {
		logger.Infow("Query submissions disabled (search.api_key / PEXELS_API_KEY not set)")
	}

	return a, nil
}

func (a *app) close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			logger.Warnw("Failed to close archive", "error", err)
		}
	}
}
