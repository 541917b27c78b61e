// Package am holds lookout's configuration: the Config tree, defaults, the
// file/env cascade, validation and hot reload.
package am

import (
	"path/filepath"
	"time"
)

// Config represents the lookout configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Detector DetectorConfig `mapstructure:"detector"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Search   SearchConfig   `mapstructure:"search"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP boundary
type ServerConfig struct {
	Host                     string `mapstructure:"host"`
	Port                     int    `mapstructure:"port"`
	TrustProxy               bool   `mapstructure:"trust_proxy"` // Take client identity from X-Forwarded-For
	ShutdownTimeoutSeconds   int    `mapstructure:"shutdown_timeout_seconds"`
	ReadHeaderTimeoutSeconds int    `mapstructure:"read_header_timeout_seconds"`
}

// ShutdownTimeout returns the graceful shutdown budget
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// PathsConfig configures the on-disk layout. Relative directories resolve
// against BaseDir.
type PathsConfig struct {
	BaseDir      string `mapstructure:"base_dir"`
	InputDir     string `mapstructure:"input_dir"`     // raw inputs, one subdirectory per run
	ProcessedDir string `mapstructure:"processed_dir"` // annotated detector output per run
	ReportsDir   string `mapstructure:"reports_dir"`   // report_<run_id>.html
	LogsDir      string `mapstructure:"logs_dir"`
}

// Resolve joins dir onto BaseDir unless dir is already absolute
func (p PathsConfig) Resolve(dir string) string {
	if filepath.IsAbs(dir) || p.BaseDir == "" {
		return dir
	}
	return filepath.Join(p.BaseDir, dir)
}

// DetectorConfig configures the external detection process
type DetectorConfig struct {
	Command             string  `mapstructure:"command"` // {source} {output} {conf} {model} are substituted
	ModelDir            string  `mapstructure:"model_dir"`
	ModelName           string  `mapstructure:"model_name"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
}

// ModelPath returns the model file handed to the detector
func (d DetectorConfig) ModelPath() string {
	if d.ModelDir == "" {
		return d.ModelName
	}
	return filepath.Join(d.ModelDir, d.ModelName)
}

// UploadConfig configures stream validation of uploaded files
type UploadConfig struct {
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`
	MaxMB               int      `mapstructure:"max_mb"`        // hard limit, rejects
	SoftLimitMB         int      `mapstructure:"soft_limit_mb"` // warns only (0 = off)
	MaxPixels           int64    `mapstructure:"max_pixels"`    // width*height cap checked before decoding
	MaxFiles            int      `mapstructure:"max_files"`     // per multipart batch
}

// SearchConfig configures the stock-photo search used by query submissions
type SearchConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	PerTermDefault    int    `mapstructure:"per_term_default"`
	MaxPerTerm        int    `mapstructure:"max_per_term"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// NotifyConfig configures the zero-detection e-mail alarm
type NotifyConfig struct {
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	SMTPFrom string   `mapstructure:"smtp_from"`
	SMTPTo   []string `mapstructure:"smtp_to"`
	SMTPPass string   `mapstructure:"smtp_pass"`
}

// ArchiveConfig configures the SQLite detection history (empty path = off)
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig configures optional report mirroring
type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 (or MinIO) report mirror (empty bucket = off)
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`

	// Static credentials; empty falls back to the AWS default chain
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LoggingConfig configures the global logger
type LoggingConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // rotating log file (empty = console only)
}
