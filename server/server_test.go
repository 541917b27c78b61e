package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/archive"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/metrics"
	"github.com/teranos/lookout/pipeline"
	"github.com/teranos/lookout/search"
	"github.com/teranos/lookout/upload"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	runs    []*pipeline.Run
	slots   []*admission.Slot
	states  map[string]pipeline.RunState
	stopped bool
}

func (d *fakeDispatcher) Submit(run *pipeline.Run, slot *admission.Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, run)
	d.slots = append(d.slots, slot)
}

func (d *fakeDispatcher) Status(runID string) (pipeline.RunState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[runID]
	return st, ok
}

func (d *fakeDispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

func (d *fakeDispatcher) Stop(time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return true
}

func (d *fakeDispatcher) lastRun(t *testing.T) *pipeline.Run {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.runs)
	return d.runs[len(d.runs)-1]
}

type fakeSearch struct {
	files map[string][]string // term -> file names to create
	err   error
	terms []string
}

func (f *fakeSearch) Download(ctx context.Context, term string, n int, destDir string) ([]string, error) {
	f.terms = append(f.terms, term)
	if f.err != nil {
		return nil, f.err
	}
	var paths []string
	for i, name := range f.files[term] {
		if i == n {
			break
		}
		p := filepath.Join(destDir, name)
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

type fakeHistory struct {
	records map[string][]archive.Record
}

func (f *fakeHistory) ListByRun(ctx context.Context, runID string) ([]archive.Record, error) {
	if r, ok := f.records[runID]; ok {
		return r, nil
	}
	return nil, errors.NewNotFoundError("no archived detections for run %s", runID)
}

type testServer struct {
	*Server
	handler    http.Handler
	dispatcher *fakeDispatcher
	admission  *admission.Controller
	tempDir    string
	cfg        *am.Config
}

func newTestServer(t *testing.T, mutate ...func(*Deps)) *testServer {
	t.Helper()
	base := t.TempDir()
	cfg := &am.Config{
		Server: am.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeoutSeconds: 2},
		Paths: am.PathsConfig{
			BaseDir:      base,
			InputDir:     "input",
			ProcessedDir: "processed",
			ReportsDir:   "reports",
		},
		Detector: am.DetectorConfig{ConfidenceThreshold: 0.8},
		Upload:   am.UploadConfig{AllowedContentTypes: []string{"image/jpeg", "image/png"}, MaxMB: 1},
		Search:   am.SearchConfig{PerTermDefault: 5, MaxPerTerm: 15},
	}
	policy, err := upload.PolicyFromConfig(cfg.Upload)
	require.NoError(t, err)

	tempDir := t.TempDir()
	ctrl := admission.NewController()
	disp := &fakeDispatcher{states: map[string]pipeline.RunState{}}
	deps := Deps{
		Config:     cfg,
		Policy:     policy,
		Validator:  &upload.Validator{TempDir: tempDir},
		Admission:  ctrl,
		Dispatcher: disp,
		Metrics:    metrics.New(ctrl.Busy),
	}
	for _, m := range mutate {
		m(&deps)
	}

	s, err := New(deps)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(s.reportsDir, 0o755))
	return &testServer{Server: s, handler: s.Handler(), dispatcher: disp, admission: ctrl, tempDir: tempDir, cfg: cfg}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for i := 0; i < 24; i++ {
		img.Set(i, i, color.RGBA{G: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type formFile struct {
	name string
	body []byte
}

// uploadRequest builds a multipart POST /detect/upload
func uploadRequest(t *testing.T, files []formFile, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile(uploadFieldName, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.body)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "203.0.113.7:51234"
	return req
}

func queryRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/detect/query", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.7:51234"
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestUpload_AcceptedAndDispatched(t *testing.T) {
	ts := newTestServer(t)
	req := uploadRequest(t, []formFile{{"street.jpg", testJPEG(t)}}, map[string]string{"conf": "0.5"})

	rec := ts.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[AcceptedResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.RunID, "street_"), resp.RunID)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 1, resp.Images)
	assert.Equal(t, "/processing/"+resp.RunID+"/report_"+resp.RunID+".html", resp.PollURL)
	assert.Equal(t, "/reports/report_"+resp.RunID+".html", resp.ReportHint)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	run := ts.dispatcher.lastRun(t)
	assert.Equal(t, resp.RunID, run.ID)
	assert.Equal(t, "203.0.113.7", run.ClientID)
	assert.Equal(t, 0.5, run.Confidence)
	assert.Equal(t, []string{"street.jpg"}, entries(t, run.SourceDir))
	assert.Equal(t, filepath.Join(ts.processedDir, run.ID), run.OutputDir)

	// slot is held by the dispatched run
	assert.Equal(t, 1, ts.admission.Busy())
	assert.Empty(t, entries(t, ts.tempDir))
}

func TestUpload_BulkAndDefaults(t *testing.T) {
	ts := newTestServer(t)
	img := testJPEG(t)
	req := uploadRequest(t, []formFile{{"a.jpg", img}, {"a.jpg", img}, {"noext", img}}, nil)

	rec := ts.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	run := ts.dispatcher.lastRun(t)
	assert.True(t, strings.HasPrefix(run.ID, "bulk-upload_"), run.ID)
	assert.Equal(t, 0.8, run.Confidence)
	assert.ElementsMatch(t, []string{"a.jpg", "2_a.jpg", "noext.jpg"}, entries(t, run.SourceDir))
}

func TestUpload_BrowserGetsRedirect(t *testing.T) {
	ts := newTestServer(t)
	req := uploadRequest(t, []formFile{{"cat.jpg", testJPEG(t)}}, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	rec := ts.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	run := ts.dispatcher.lastRun(t)
	assert.Equal(t, pollURL(run), rec.Header().Get("Location"))
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		files    []formFile
		fields   map[string]string
		status   int
		kind     string
		contains string
	}{
		{name: "no files", fields: map[string]string{"conf": "0.5"}, status: http.StatusBadRequest, contains: "no files"},
		{name: "empty file input", files: []formFile{{"", nil}}, status: http.StatusBadRequest, contains: "no files"},
		{name: "conf out of range", files: []formFile{{"a.jpg", nil}}, fields: map[string]string{"conf": "1.5"}, status: http.StatusBadRequest, contains: "conf"},
		{name: "conf not a number", files: []formFile{{"a.jpg", nil}}, fields: map[string]string{"conf": "high"}, status: http.StatusBadRequest, contains: "conf"},
		{name: "text disguised as image", files: []formFile{{"photo.png", []byte("definitely not an image")}}, status: http.StatusUnprocessableEntity, kind: "unsupported_type"},
		{name: "truncated jpeg", files: []formFile{{"a.jpg", nil}, {"broken.jpg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")}}, status: http.StatusUnprocessableEntity, kind: "corrupt"},
		{name: "oversize", files: []formFile{{"big.jpg", bytes.Repeat([]byte{0xff}, 1<<20+1)}}, status: http.StatusUnprocessableEntity, kind: "oversize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			img := testJPEG(t)
			files := make([]formFile, len(tt.files))
			for i, f := range tt.files {
				if f.body == nil && f.name != "" {
					f.body = img
				}
				files[i] = f
			}

			rec := ts.do(uploadRequest(t, files, tt.fields))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.kind, body.Kind)
			if tt.contains != "" {
				assert.Contains(t, body.Error, tt.contains)
			}

			assert.Empty(t, ts.dispatcher.runs)
			assert.Equal(t, 0, ts.admission.Busy(), "rejection must not hold a slot")
			assert.Empty(t, entries(t, ts.tempDir), "artifacts must be cleaned up")
			assert.Empty(t, entries(t, ts.inputDir))
		})
	}
}

func TestUpload_BodyCutMidFileIs400(t *testing.T) {
	ts := newTestServer(t)
	img := testJPEG(t)
	full := uploadRequest(t, []formFile{{"a.jpg", img}, {"b.jpg", img}}, nil)
	body, err := io.ReadAll(full.Body)
	require.NoError(t, err)

	// keep all of a.jpg and half of b.jpg
	second := bytes.LastIndex(body, img)
	require.Greater(t, second, 0)
	req := httptest.NewRequest(http.MethodPost, "/detect/upload", bytes.NewReader(body[:second+len(img)/2]))
	req.Header.Set("Content-Type", full.Header.Get("Content-Type"))
	req.RemoteAddr = full.RemoteAddr

	rec := ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "b.jpg", resp.File)
	assert.Empty(t, resp.Kind)
	assert.Empty(t, ts.dispatcher.runs)
	assert.Empty(t, entries(t, ts.tempDir), "a.jpg is discarded with the batch")
}

func TestUpload_TooManyFiles(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		p, err := d.Policy.WithLimits(0, 2)
		require.NoError(t, err)
		d.Policy = p
	})
	img := testJPEG(t)

	rec := ts.do(uploadRequest(t, []formFile{{"a.jpg", img}, {"b.jpg", img}, {"c.jpg", img}}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "too_many_files", decode[ErrorResponse](t, rec).Kind)
	assert.Empty(t, entries(t, ts.tempDir))
}

func TestUpload_BusyClientGets429(t *testing.T) {
	ts := newTestServer(t)
	held, ok := ts.admission.TryAcquire("203.0.113.7")
	require.True(t, ok)

	rec := ts.do(uploadRequest(t, []formFile{{"a.jpg", testJPEG(t)}}, nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "previous detection still processing", decode[ErrorResponse](t, rec).Error)
	assert.Empty(t, entries(t, ts.tempDir))
	assert.Empty(t, entries(t, ts.inputDir))

	// another client is unaffected
	req := uploadRequest(t, []formFile{{"a.jpg", testJPEG(t)}}, nil)
	req.RemoteAddr = "198.51.100.2:4000"
	assert.Equal(t, http.StatusAccepted, ts.do(req).Code)

	held.Release()
	assert.Equal(t, http.StatusAccepted, ts.do(uploadRequest(t, []formFile{{"a.jpg", testJPEG(t)}}, nil)).Code)
}

func TestUpload_PolicyReload(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.ReloadConfig(&am.Config{Upload: am.UploadConfig{AllowedContentTypes: []string{"image/png"}, MaxMB: 1}}))
	assert.Equal(t, []string{"image/png"}, ts.Policy().ContentTypes())

	rec := ts.do(uploadRequest(t, []formFile{{"a.jpg", testJPEG(t)}}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unsupported_type", decode[ErrorResponse](t, rec).Kind)

	assert.Error(t, ts.ReloadConfig(&am.Config{Upload: am.UploadConfig{MaxMB: 1}}))
	assert.Equal(t, []string{"image/png"}, ts.Policy().ContentTypes(), "bad reload keeps the old policy")
}

func TestQuery(t *testing.T) {
	fs := &fakeSearch{files: map[string][]string{
		"cat":     {"c1.jpg", "c2.jpg", "c3.jpg"},
		"red car": {"r1.jpg"},
	}}
	ts := newTestServer(t, func(d *Deps) { d.Search = fs })

	rec := ts.do(queryRequest(url.Values{"query": {"cat, red car"}, "n": {"2"}, "conf": {"0.3"}}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[AcceptedResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.RunID, "cat-red-car_"), resp.RunID)
	assert.Equal(t, 3, resp.Images)
	assert.Equal(t, []string{"cat", "red car"}, fs.terms)

	run := ts.dispatcher.lastRun(t)
	assert.Equal(t, 0.3, run.Confidence)
	assert.Len(t, entries(t, run.SourceDir), 3)
}

func TestQuery_FailedTermIsSkipped(t *testing.T) {
	fs := &fakeSearch{err: errors.New("search returned 500")}
	ts := newTestServer(t, func(d *Deps) { d.Search = fs })

	rec := ts.do(queryRequest(url.Values{"query": {"cat"}}))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, decode[AcceptedResponse](t, rec).Images)
}

func TestQuery_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		form   url.Values
		status int
	}{
		{"empty query", url.Values{"query": {" , "}}, http.StatusBadRequest},
		{"n too large", url.Values{"query": {"cat"}, "n": {"16"}}, http.StatusBadRequest},
		{"n negative", url.Values{"query": {"cat"}, "n": {"-1"}}, http.StatusBadRequest},
		{"n not a number", url.Values{"query": {"cat"}, "n": {"five"}}, http.StatusBadRequest},
		{"conf out of range", url.Values{"query": {"cat"}, "conf": {"-0.1"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(d *Deps) { d.Search = &fakeSearch{} })
			rec := ts.do(queryRequest(tt.form))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, 0, ts.admission.Busy())
		})
	}
}

func TestQuery_SearchUnavailable(t *testing.T) {
	t.Run("no client", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(queryRequest(url.Values{"query": {"cat"}}))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, 0, ts.admission.Busy(), "slot must be released")
	})

	t.Run("no api key", func(t *testing.T) {
		ts := newTestServer(t, func(d *Deps) { d.Search = &fakeSearch{err: search.ErrNotConfigured} })
		rec := ts.do(queryRequest(url.Values{"query": {"cat"}}))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, 0, ts.admission.Busy())
		assert.Empty(t, entries(t, ts.inputDir))
	})

	t.Run("busy client", func(t *testing.T) {
		ts := newTestServer(t, func(d *Deps) { d.Search = &fakeSearch{} })
		_, ok := ts.admission.TryAcquire("203.0.113.7")
		require.True(t, ok)
		assert.Equal(t, http.StatusTooManyRequests, ts.do(queryRequest(url.Values{"query": {"cat"}})).Code)
	})
}

func TestProcessing(t *testing.T) {
	ts := newTestServer(t)
	runID := "cats_2026-10-14T09-00-00"
	report := pipeline.ReportName(runID)
	path := "/processing/" + runID + "/" + report

	rec := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http-equiv="refresh"`)
	assert.Contains(t, rec.Body.String(), runID)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/processing/"+runID+"/report_other.html", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.dispatcher.states[runID] = pipeline.RunState{RunID: runID, Status: pipeline.RunStatusFailed, Stage: "detect", Error: "exit status 1"}
	rec = ts.do(httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "detect", decode[ErrorResponse](t, rec).Kind)

	require.NoError(t, os.WriteFile(filepath.Join(ts.reportsDir, report), []byte("<html>done</html>"), 0o644))
	rec = ts.do(httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/reports/"+report, rec.Header().Get("Location"))

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/reports/"+report, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>done</html>", rec.Body.String())
}

func TestRunStatus(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil)).Code)

	ts.dispatcher.states["r1"] = pipeline.RunState{RunID: "r1", Status: pipeline.RunStatusProcessing, Images: 4}
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/r1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RunStatusResponse](t, rec)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 4, resp.Images)
	assert.False(t, resp.ReportReady)

	// untracked but reported, e.g. after a restart
	require.NoError(t, os.WriteFile(filepath.Join(ts.reportsDir, "report_old.html"), nil, 0o644))
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/old", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[RunStatusResponse](t, rec)
	assert.Equal(t, "done", resp.Status)
	assert.True(t, resp.ReportReady)
}

func TestRunDetections(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/r1/detections", nil)).Code)

	hist := &fakeHistory{records: map[string][]archive.Record{
		"r1": {{RunID: "r1", Image: "r1/a.jpg", Label: "cat", Confidence: 0.9}},
	}}
	ts = newTestServer(t, func(d *Deps) { d.History = hist })

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/r1/detections", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"label":"cat"`)

	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/r2/detections", nil)).Code)
}

func TestHomeHealthAndStatic(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/detect/upload")

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "running", health.Status)
	assert.Equal(t, 0, health.BusyClients)

	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/reports/", nil)).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil)).Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lookout_http_requests_total")
}

func TestDraining(t *testing.T) {
	ts := newTestServer(t)
	ts.setState(ServerStateDraining)

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	rec := ts.do(uploadRequest(t, []formFile{{"a.jpg", testJPEG(t)}}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, ts.admission.Busy())
}

func TestMiddleware(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	assert.Equal(t, "req-123", ts.do(req).Header().Get("X-Request-ID"))

	panicky := ts.withMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	panicky.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[ErrorResponse](t, rec).Error)
}

func TestClientID(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")

	assert.Equal(t, "192.0.2.1", ts.clientID(req))

	ts.cfg.Server.TrustProxy = true
	assert.Equal(t, "198.51.100.9", ts.clientID(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "192.0.2.1", ts.clientID(req))
}

func TestStartStop(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.Start(context.Background()))

	require.NoError(t, ts.Stop(context.Background()))
	assert.Equal(t, ServerStateStopped, ts.getState())
	assert.True(t, ts.dispatcher.stopped)
	require.NoError(t, ts.Stop(context.Background()))

	_, open := <-ts.Err()
	assert.False(t, open)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.True(t, errors.IsConfigurationError(err))
}
