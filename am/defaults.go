package am

import (
	"github.com/spf13/viper"
)

// File permission constants
const (
	DefaultDirPermissions  = 0o755
	DefaultFilePermissions = 0o644
)

// Server port and detection defaults
const (
	DefaultServerPort          = 8000
	DefaultConfidenceThreshold = 0.8
	MaxImagesPerTerm           = 15
)

// Upload decode limits. DefaultMaxPixels matches the decompression bomb
// threshold common image libraries use (~89.5 megapixels).
const (
	DefaultMaxPixels      = 89_478_485
	DefaultMaxUploadFiles = 50
)

// EnvPrefix is the prefix for environment overrides (LOOKOUT_SERVER_PORT, ...)
const EnvPrefix = "LOOKOUT"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("server.read_header_timeout_seconds", 10)

	// Paths
	v.SetDefault("paths.base_dir", ".")
	v.SetDefault("paths.input_dir", "data/raw")
	v.SetDefault("paths.processed_dir", "data/processed")
	v.SetDefault("paths.reports_dir", "reports")
	v.SetDefault("paths.logs_dir", "logs")

	// Detector
	v.SetDefault("detector.command", "yolo-detect --source {source} --output {output} --conf {conf} --model {model}")
	v.SetDefault("detector.model_dir", "models/weights")
	v.SetDefault("detector.model_name", "yolov8n.pt")
	v.SetDefault("detector.confidence_threshold", DefaultConfidenceThreshold)
	v.SetDefault("detector.timeout_seconds", 600)

	// Upload inspection
	v.SetDefault("upload.allowed_content_types", []string{"image/jpeg", "image/png"})
	v.SetDefault("upload.max_mb", 10)
	v.SetDefault("upload.soft_limit_mb", 0)
	v.SetDefault("upload.max_pixels", DefaultMaxPixels)
	v.SetDefault("upload.max_files", DefaultMaxUploadFiles)

	// Search (Pexels)
	v.SetDefault("search.base_url", "https://api.pexels.com")
	v.SetDefault("search.per_term_default", 5)
	v.SetDefault("search.max_per_term", MaxImagesPerTerm)
	v.SetDefault("search.requests_per_minute", 60)
	v.SetDefault("search.timeout_seconds", 30)

	// Notify
	v.SetDefault("notify.smtp_port", 587)

	// Archive
	v.SetDefault("archive.path", "data/history.db")

	// Storage
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.prefix", "reports/")

	// Logging
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/lookout.log")
}

// BindSensitiveEnvVars explicitly binds secrets to their conventional,
// unprefixed environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("search.api_key", EnvPrefix+"_SEARCH_API_KEY", "PEXELS_API_KEY")

	_ = v.BindEnv("notify.smtp_host", EnvPrefix+"_NOTIFY_SMTP_HOST", "SMTP_HOST")
	_ = v.BindEnv("notify.smtp_port", EnvPrefix+"_NOTIFY_SMTP_PORT", "SMTP_PORT")
	_ = v.BindEnv("notify.smtp_from", EnvPrefix+"_NOTIFY_SMTP_FROM", "SMTP_FROM")
	_ = v.BindEnv("notify.smtp_to", EnvPrefix+"_NOTIFY_SMTP_TO", "SMTP_TO")
	_ = v.BindEnv("notify.smtp_pass", EnvPrefix+"_NOTIFY_SMTP_PASS", "SMTP_PASS")

	_ = v.BindEnv("storage.s3.access_key_id", EnvPrefix+"_STORAGE_S3_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.s3.secret_access_key", EnvPrefix+"_STORAGE_S3_SECRET_ACCESS_KEY")
}
