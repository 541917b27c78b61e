// Package server is the HTTP boundary: it validates uploads and search
// queries, admits one run per client and hands runs to the dispatcher.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/archive"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/metrics"
	"github.com/teranos/lookout/pipeline"
	"github.com/teranos/lookout/search"
	"github.com/teranos/lookout/upload"
)

// Dispatcher runs admitted work in the background
type Dispatcher interface {
	Submit(run *pipeline.Run, slot *admission.Slot)
	Status(runID string) (pipeline.RunState, bool)
	Active() int
	Stop(timeout time.Duration) bool
}

// History serves archived detections
type History interface {
	ListByRun(ctx context.Context, runID string) ([]archive.Record, error)
}

// Deps are the collaborators of a Server. Search and History are optional.
type Deps struct {
	Config     *am.Config
	Policy     *upload.Policy
	Validator  *upload.Validator
	Admission  *admission.Controller
	Dispatcher Dispatcher
	Search     search.Client
	History    History
	Metrics    *metrics.Metrics
}

// Server owns the HTTP listener and the request handlers
type Server struct {
	cfg        *am.Config
	validator  *upload.Validator
	admission  *admission.Controller
	dispatcher Dispatcher
	search     search.Client
	history    History
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
	timeNow    func() time.Time

	policy atomic.Pointer[upload.Policy]
	state  atomic.Int32

	inputDir     string
	processedDir string
	reportsDir   string

	mux        *http.ServeMux
	httpServer *http.Server
	serveErr   chan error
	stopOnce   sync.Once
}

// New wires a server. Config, Policy, Validator, Admission and Dispatcher
// are required.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.NewConfigurationError("server requires a config")
	case deps.Policy == nil:
		return nil, errors.NewConfigurationError("server requires an upload policy")
	case deps.Validator == nil:
		return nil, errors.NewConfigurationError("server requires a validator")
	case deps.Admission == nil:
		return nil, errors.NewConfigurationError("server requires an admission controller")
	case deps.Dispatcher == nil:
		return nil, errors.NewConfigurationError("server requires a dispatcher")
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.New(deps.Admission.Busy)
	}

	paths := deps.Config.Paths
	s := &Server{
		cfg:          deps.Config,
		validator:    deps.Validator,
		admission:    deps.Admission,
		dispatcher:   deps.Dispatcher,
		search:       deps.Search,
		history:      deps.History,
		metrics:      m,
		logger:       logger.ComponentLogger("server"),
		timeNow:      time.Now,
		inputDir:     paths.Resolve(paths.InputDir),
		processedDir: paths.Resolve(paths.ProcessedDir),
		reportsDir:   paths.Resolve(paths.ReportsDir),
		serveErr:     make(chan error, 1),
	}
	s.policy.Store(deps.Policy)
	s.setupRoutes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

// Policy returns the upload policy in effect
func (s *Server) Policy() *upload.Policy { return s.policy.Load() }

// SetPolicy swaps the upload policy. Validations already running keep the
// policy they started with.
func (s *Server) SetPolicy(p *upload.Policy) {
	if p == nil {
		return
	}
	s.policy.Store(p)
	s.logger.Infow("Upload policy reloaded",
		logger.FieldLimit, p.MaxBytes(),
		logger.FieldContentType, p.ContentTypes())
}

// ReloadConfig applies the hot reloadable part of cfg, the upload policy.
// It has the am.ReloadCallback signature.
func (s *Server) ReloadConfig(cfg *am.Config) error {
	p, err := upload.PolicyFromConfig(cfg.Upload)
	if err != nil {
		return err
	}
	s.SetPolicy(p)
	return nil
}
