package server

import (
	"net/http"

	"github.com/teranos/lookout/report"
	"github.com/teranos/lookout/version"
)

// HandleHome renders the upload and query forms
func (s *Server) HandleHome(w http.ResponseWriter, r *http.Request) {
	policy := s.policy.Load()
	data := report.HomeData{
		Confidence:    s.cfg.Detector.ConfidenceThreshold,
		PerTerm:       s.cfg.Search.PerTermDefault,
		MaxPerTerm:    s.maxPerTerm(),
		AllowedTypes:  policy.ContentTypes(),
		MaxMB:         int(policy.MaxBytes() >> 20),
		SearchEnabled: s.searchEnabled(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.HomePage(w, data); err != nil {
		s.logger.Errorw("Failed to render home page", "error", err)
	}
}

// HandleHealth reports lifecycle state and load. Draining answers 503 so
// load balancers stop routing here.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.getState()
	status := http.StatusOK
	if state != ServerStateRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		Status:      stateString(state),
		BusyClients: s.admission.Busy(),
		ActiveRuns:  s.dispatcher.Active(),
		Version:     version.Get().Short(),
	})
}

func (s *Server) searchEnabled() bool {
	if s.search == nil {
		return false
	}
	if c, ok := s.search.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}
