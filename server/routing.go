package server

import (
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/lookout/logger"
)

// setupRoutes registers every handler on a private mux
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.HandleHome)
	mux.HandleFunc("POST /detect/upload", s.HandleUpload)
	mux.HandleFunc("POST /detect/query", s.HandleQuery)
	mux.HandleFunc("GET /processing/{runID}/{report}", s.HandleProcessing)
	mux.HandleFunc("GET /api/runs/{runID}", s.HandleRunStatus)
	mux.HandleFunc("GET /api/runs/{runID}/detections", s.HandleRunDetections)
	mux.Handle("GET /reports/", http.StripPrefix("/reports/", staticFiles(s.reportsDir)))
	mux.Handle("GET /processed/", http.StripPrefix("/processed/", staticFiles(s.processedDir)))
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux = mux
}

// staticFiles serves dir without directory listings. http.FileServerFS
// rejects ".." elements, so nothing outside dir is reachable.
func staticFiles(dir string) http.Handler {
	files := http.FileServerFS(os.DirFS(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status = http.StatusOK
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// withMiddleware wraps next with request IDs, panic recovery, access
// logging and request metrics, outermost first
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.timeNow()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		clientID := s.clientID(r)
		ctx := logger.WithRequestID(r.Context(), requestID)
		ctx = logger.WithClientID(ctx, clientID)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				logger.LoggerFromContext(ctx).Errorw("Handler panic",
					"panic", p,
					"stack", string(debug.Stack()))
				if !rec.wrote {
					writeError(rec, http.StatusInternalServerError, "internal server error")
				} else {
					rec.status = http.StatusInternalServerError
				}
			}

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			elapsed := s.timeNow().Sub(start)
			s.metrics.HTTPRequest(route, rec.status, elapsed)

			log := logger.LoggerFromContext(ctx)
			fields := []interface{}{
				logger.FieldMethod, r.Method,
				logger.FieldPath, r.URL.Path,
				logger.FieldRoute, route,
				logger.FieldStatus, rec.status,
				logger.FieldDurationMS, elapsed.Milliseconds(),
			}
			if rec.status >= 500 {
				log.Warnw("HTTP request", fields...)
			} else {
				log.Debugw("HTTP request", fields...)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}
