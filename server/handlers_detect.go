package server

import (
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/pipeline"
	"github.com/teranos/lookout/search"
	"github.com/teranos/lookout/upload"
)

// HandleUpload accepts a multipart batch of images. Parts are validated as
// they stream in; the client's slot is taken only after every file passed.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		s.handleError(w, r, ErrDraining)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.handleError(w, r, errors.NewInvalidRequestError("expected a multipart/form-data body: %v", err))
		return
	}

	var (
		current *multipart.Part
		confRaw string
	)
	next := func() (upload.NamedReader, error) {
		if current != nil {
			current.Close()
			current = nil
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return upload.NamedReader{}, io.EOF
			}
			if err != nil {
				return upload.NamedReader{}, errors.Mark(
					errors.Wrap(err, "malformed multipart body"), errors.ErrInvalidRequest)
			}

			switch part.FormName() {
			case uploadFieldName:
				// browsers send an empty part for an untouched file input
				if part.FileName() == "" {
					part.Close()
					continue
				}
				current = part
				return upload.NamedReader{Name: part.FileName(), Reader: part}, nil
			case "conf":
				b, err := io.ReadAll(io.LimitReader(part, 32))
				part.Close()
				if err != nil {
					return upload.NamedReader{}, errors.Mark(
						errors.Wrap(err, "failed to read conf"), errors.ErrInvalidRequest)
				}
				confRaw = string(b)
			default:
				part.Close()
			}
		}
	}

	artifacts, err := s.validator.ValidateStream(r.Context(), next, s.policy.Load())
	if current != nil {
		current.Close()
	}
	if err != nil {
		if kind := upload.KindOf(err); kind != "" {
			s.metrics.ValidationRejected(kind)
		}
		s.handleError(w, r, err)
		return
	}
	if len(artifacts) == 0 {
		s.handleError(w, r, errors.NewInvalidRequestError("no files uploaded (field %q)", uploadFieldName))
		return
	}

	conf, err := parseConfidence(confRaw, s.cfg.Detector.ConfidenceThreshold)
	if err != nil {
		upload.DiscardAll(artifacts)
		s.handleError(w, r, err)
		return
	}

	slot, ok := s.acquire(r)
	if !ok {
		upload.DiscardAll(artifacts)
		s.handleError(w, r, admission.ErrAdmissionDenied)
		return
	}

	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = a.OriginalName
	}
	runID, sourceDir, err := s.reserveRunDir(pipeline.UploadSlugBase(names))
	if err != nil {
		upload.DiscardAll(artifacts)
		slot.Release()
		s.handleError(w, r, err)
		return
	}

	seen := make(map[string]bool, len(artifacts))
	for i, a := range artifacts {
		if err := a.MoveTo(sourceDir, inputFileName(a, i, seen)); err != nil {
			upload.DiscardAll(artifacts)
			os.RemoveAll(sourceDir)
			slot.Release()
			s.handleError(w, r, err)
			return
		}
	}

	s.dispatch(w, r, runID, conf, len(artifacts), slot)
}

// HandleQuery downloads images for each comma separated term and runs
// detection on them. Downloads happen on the request path.
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		s.handleError(w, r, ErrDraining)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.handleError(w, r, errors.NewInvalidRequestError("invalid form: %v", err))
		return
	}

	query := r.PostForm.Get("query")
	terms := search.SplitTerms(query)
	if len(terms) == 0 {
		s.handleError(w, r, errors.NewInvalidRequestError("query must contain at least one search term"))
		return
	}
	n, err := parseCount(r.PostForm.Get("n"), s.cfg.Search.PerTermDefault, s.maxPerTerm())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	conf, err := parseConfidence(r.PostForm.Get("conf"), s.cfg.Detector.ConfidenceThreshold)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	slot, ok := s.acquire(r)
	if !ok {
		s.handleError(w, r, admission.ErrAdmissionDenied)
		return
	}
	if s.search == nil {
		slot.Release()
		s.handleError(w, r, search.ErrNotConfigured)
		return
	}

	runID, sourceDir, err := s.reserveRunDir(pipeline.QuerySlugBase(query))
	if err != nil {
		slot.Release()
		s.handleError(w, r, err)
		return
	}

	log := logger.LoggerFromContext(r.Context())
	images := 0
	for _, term := range terms {
		paths, err := s.search.Download(r.Context(), term, n, sourceDir)
		if errors.Is(err, search.ErrNotConfigured) {
			os.RemoveAll(sourceDir)
			slot.Release()
			s.handleError(w, r, err)
			return
		}
		if err != nil {
			log.Warnw("Term download failed", logger.FieldQuery, term, logger.FieldError, err)
			continue
		}
		images += len(paths)
	}

	if err := r.Context().Err(); err != nil {
		os.RemoveAll(sourceDir)
		slot.Release()
		s.handleError(w, r, err)
		return
	}

	s.dispatch(w, r, runID, conf, images, slot)
}

// acquire takes the caller's admission slot and counts the outcome
func (s *Server) acquire(r *http.Request) (*admission.Slot, bool) {
	slot, ok := s.admission.TryAcquire(s.clientID(r))
	s.metrics.Admission(ok)
	return slot, ok
}

// dispatch hands the run to the background and replies at once. From here
// on the slot belongs to the run.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, runID string, conf float64, images int, slot *admission.Slot) {
	run := &pipeline.Run{
		ID:         runID,
		ClientID:   slot.ClientID(),
		SourceDir:  filepath.Join(s.inputDir, runID),
		OutputDir:  filepath.Join(s.processedDir, runID),
		Confidence: conf,
		Images:     images,
		CreatedAt:  s.timeNow(),
	}
	s.dispatcher.Submit(run, slot)

	logger.LoggerFromContext(r.Context()).Infow("Run dispatched",
		logger.FieldRunID, runID,
		logger.FieldCount, images,
		"confidence", conf)

	pollURL := pollURL(run)
	if wantsHTML(r) {
		http.Redirect(w, r, pollURL, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		RunID:      runID,
		Status:     string(pipeline.RunStatusProcessing),
		Images:     images,
		PollURL:    pollURL,
		ReportHint: "/reports/" + run.ReportName(),
	})
}

func pollURL(run *pipeline.Run) string {
	return "/processing/" + run.ID + "/" + run.ReportName()
}

// reserveRunDir creates <input_dir>/<runID>. Two runs with the same slug in
// the same second get -2, -3 ... suffixes instead of sharing a directory.
func (s *Server) reserveRunDir(slugBase string) (string, string, error) {
	if err := os.MkdirAll(s.inputDir, am.DefaultDirPermissions); err != nil {
		return "", "", errors.Wrapf(err, "failed to create input dir %s", s.inputDir)
	}
	base := pipeline.NewRunID(slugBase, s.timeNow())
	for i := 1; i <= 100; i++ {
		runID := base
		if i > 1 {
			runID = fmt.Sprintf("%s-%d", base, i)
		}
		dir := filepath.Join(s.inputDir, runID)
		err := os.Mkdir(dir, am.DefaultDirPermissions)
		if err == nil {
			return runID, dir, nil
		}
		if !os.IsExist(err) {
			return "", "", errors.Wrapf(err, "failed to create run dir %s", dir)
		}
	}
	return "", "", errors.Newf("no free run directory for %s", base)
}

// inputFileName picks a unique, extension carrying name for artifact i
func inputFileName(a *upload.Artifact, i int, seen map[string]bool) string {
	name := filepath.Base(strings.ReplaceAll(a.OriginalName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = fmt.Sprintf("upload_%d", i+1)
	}
	if filepath.Ext(name) == "" {
		name += extensionFor(a.ContentType)
	}
	if seen[name] {
		name = fmt.Sprintf("%d_%s", i+1, name)
	}
	seen[name] = true
	return name
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	default:
		return ""
	}
}

// parseConfidence reads conf in [0,1]; empty means def
func parseConfidence(raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, errors.NewInvalidRequestError("conf must be a number, got %q", raw)
	}
	if v < 0 || v > 1 {
		return 0, errors.NewInvalidRequestError("conf must be in [0, 1], got %g", v)
	}
	return v, nil
}

// parseCount reads n in [0,max]; empty means def
func parseCount(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewInvalidRequestError("n must be an integer, got %q", raw)
	}
	if v < 0 || v > max {
		return 0, errors.NewInvalidRequestError("n must be in [0, %d], got %d", max, v)
	}
	return v, nil
}

func (s *Server) maxPerTerm() int {
	if m := s.cfg.Search.MaxPerTerm; m > 0 && m <= am.MaxImagesPerTerm {
		return m
	}
	return am.MaxImagesPerTerm
}
