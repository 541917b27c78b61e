package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/lookout/archive"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/pipeline"
	"github.com/teranos/lookout/report"
)

// HandleProcessing redirects to the report once it exists and otherwise
// shows a page that reloads itself
func (s *Server) HandleProcessing(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	name := r.PathValue("report")
	if !validRunID(runID) || name != pipeline.ReportName(runID) {
		s.handleError(w, r, errors.NewNotFoundError("unknown report %s", name))
		return
	}

	if s.reportExists(name) {
		http.Redirect(w, r, "/reports/"+name, http.StatusSeeOther)
		return
	}

	if state, ok := s.dispatcher.Status(runID); ok && state.Status == pipeline.RunStatusFailed {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:  "detection run failed",
			Kind:   state.Stage,
			Detail: state.Error,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := report.ProcessingPage(w, runID, name); err != nil {
		s.logger.Errorw("Failed to render processing page", "error", err)
	}
}

// HandleRunStatus reports tracker state and whether the report is ready. A
// run unknown to the tracker (for example after a restart) is still found
// through its report file.
func (s *Server) HandleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if !validRunID(runID) {
		s.handleError(w, r, errors.NewNotFoundError("unknown run %s", runID))
		return
	}

	name := pipeline.ReportName(runID)
	ready := s.reportExists(name)
	state, tracked := s.dispatcher.Status(runID)
	if !tracked && !ready {
		s.handleError(w, r, errors.NewNotFoundError("unknown run %s", runID))
		return
	}

	resp := RunStatusResponse{
		RunID:       runID,
		Status:      string(pipeline.RunStatusDone),
		ReportReady: ready,
		ReportURL:   "/reports/" + name,
	}
	if tracked {
		resp.Status = string(state.Status)
		resp.Images = state.Images
		resp.Detections = state.Detections
		resp.Error = state.Error
		resp.Stage = state.Stage
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRunDetections serves the archived detections of a run
func (s *Server) HandleRunDetections(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if s.history == nil {
		s.handleError(w, r, errors.NewNotFoundError("detection archive is disabled"))
		return
	}
	if !validRunID(runID) {
		s.handleError(w, r, errors.NewNotFoundError("unknown run %s", runID))
		return
	}

	records, err := s.history.ListByRun(r.Context(), runID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RunID      string           `json:"run_id"`
		Detections []archive.Record `json:"detections"`
	}{runID, records})
}

func (s *Server) reportExists(name string) bool {
	info, err := os.Stat(filepath.Join(s.reportsDir, name))
	return err == nil && info.Mode().IsRegular()
}

// validRunID rejects anything that could escape a directory join
func validRunID(runID string) bool {
	return runID != "" && runID != "." && runID != ".." &&
		!strings.ContainsAny(runID, `/\`) && !strings.Contains(runID, "..")
}
