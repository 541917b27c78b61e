package server

import "time"

const (
	// DefaultShutdownTimeout applies when server.shutdown_timeout_seconds is unset
	DefaultShutdownTimeout = 30 * time.Second

	// maxFormBytes bounds the urlencoded query form
	maxFormBytes = 64 << 10

	// uploadFieldName is the multipart field carrying images
	uploadFieldName = "files"
)

// ServerState is the lifecycle state reported by /health
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Shutdown in progress, new runs refused
	ServerStateStopped                     // Shutdown complete
)

// AcceptedResponse is the 202 body for a dispatched run
type AcceptedResponse struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	Images     int    `json:"images"`
	PollURL    string `json:"poll_url"`
	ReportHint string `json:"report_hint"`
}

// RunStatusResponse is the body of GET /api/runs/{runID}
type RunStatusResponse struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	Images      int    `json:"images"`
	Detections  int    `json:"detections"`
	Error       string `json:"error,omitempty"`
	Stage       string `json:"stage,omitempty"`
	ReportReady bool   `json:"report_ready"`
	ReportURL   string `json:"report_url"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	BusyClients int    `json:"busy_clients"`
	ActiveRuns  int    `json:"active_runs"`
	Version     string `json:"version"`
}

// ErrorResponse is every JSON error body
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	File   string `json:"file,omitempty"`
	Detail string `json:"detail,omitempty"`
}
