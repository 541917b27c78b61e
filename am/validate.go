package am

import (
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/teranos/lookout/errors"
)

// Validate checks that the configuration is usable. All problems are
// reported together; the result is a ConfigurationError.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...interface{}) {
		problems = append(problems, errors.NewConfigurationError(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeoutSeconds < 0 {
		add("server.shutdown_timeout_seconds must be >= 0, got %d", c.Server.ShutdownTimeoutSeconds)
	}

	if c.Paths.InputDir == "" {
		add("paths.input_dir cannot be empty")
	}
	if c.Paths.ReportsDir == "" {
		add("paths.reports_dir cannot be empty")
	}
	if c.Paths.ProcessedDir == "" {
		add("paths.processed_dir cannot be empty")
	}

	if strings.TrimSpace(c.Detector.Command) == "" {
		add("detector.command cannot be empty")
	}
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		add("detector.confidence_threshold must be in [0,1], got %v", c.Detector.ConfidenceThreshold)
	}
	if c.Detector.TimeoutSeconds < 0 {
		add("detector.timeout_seconds must be >= 0, got %d", c.Detector.TimeoutSeconds)
	}

	if len(c.Upload.AllowedContentTypes) == 0 {
		add("upload.allowed_content_types cannot be empty")
	}
	for i, ct := range c.Upload.AllowedContentTypes {
		if strings.TrimSpace(ct) == "" {
			add("upload.allowed_content_types[%d] cannot be empty", i)
		}
	}
	if c.Upload.MaxMB <= 0 {
		add("upload.max_mb must be > 0, got %d", c.Upload.MaxMB)
	}
	if c.Upload.SoftLimitMB < 0 || (c.Upload.SoftLimitMB > 0 && c.Upload.SoftLimitMB > c.Upload.MaxMB) {
		add("upload.soft_limit_mb must be in 0..max_mb (%d), got %d", c.Upload.MaxMB, c.Upload.SoftLimitMB)
	}
	if c.Upload.MaxPixels <= 0 {
		add("upload.max_pixels must be > 0, got %d", c.Upload.MaxPixels)
	}
	if c.Upload.MaxFiles <= 0 {
		add("upload.max_files must be > 0, got %d", c.Upload.MaxFiles)
	}

	if c.Search.MaxPerTerm < 0 || c.Search.MaxPerTerm > MaxImagesPerTerm {
		add("search.max_per_term must be in 0..%d, got %d", MaxImagesPerTerm, c.Search.MaxPerTerm)
	}
	if c.Search.PerTermDefault < 0 || c.Search.PerTermDefault > c.Search.MaxPerTerm {
		add("search.per_term_default must be in 0..max_per_term, got %d", c.Search.PerTermDefault)
	}
	if c.Search.RequestsPerMinute < 0 {
		add("search.requests_per_minute must be >= 0, got %d", c.Search.RequestsPerMinute)
	}

	if c.Notify.SMTPPort < 0 || c.Notify.SMTPPort > 65535 {
		add("notify.smtp_port must be in 0..65535, got %d", c.Notify.SMTPPort)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Mark(errors.Join(problems...), errors.ErrConfiguration)
}

// CheckUnknownKeys decodes a TOML file against Config and returns the keys
// the file sets that no Config field consumes (typos, stale settings).
func CheckUnknownKeys(path string) ([]string, error) {
	var shape tomlShape
	meta, err := toml.DecodeFile(path, &shape)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to parse %s", path), errors.ErrConfiguration)
	}

	var unknown []string
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, key.String())
	}
	sort.Strings(unknown)
	return unknown, nil
}

// tomlShape mirrors Config with toml tags so BurntSushi can report
// undecoded keys. Keep in sync with am.go.
type tomlShape struct {
	Server struct {
		Host                     string `toml:"host"`
		Port                     int    `toml:"port"`
		TrustProxy               bool   `toml:"trust_proxy"`
		ShutdownTimeoutSeconds   int    `toml:"shutdown_timeout_seconds"`
		ReadHeaderTimeoutSeconds int    `toml:"read_header_timeout_seconds"`
	} `toml:"server"`
	Paths struct {
		BaseDir      string `toml:"base_dir"`
		InputDir     string `toml:"input_dir"`
		ProcessedDir string `toml:"processed_dir"`
		ReportsDir   string `toml:"reports_dir"`
		LogsDir      string `toml:"logs_dir"`
	} `toml:"paths"`
	Detector struct {
		Command             string  `toml:"command"`
		ModelDir            string  `toml:"model_dir"`
		ModelName           string  `toml:"model_name"`
		ConfidenceThreshold float64 `toml:"confidence_threshold"`
		TimeoutSeconds      int     `toml:"timeout_seconds"`
	} `toml:"detector"`
	Upload struct {
		AllowedContentTypes []string `toml:"allowed_content_types"`
		MaxMB               int      `toml:"max_mb"`
		SoftLimitMB         int      `toml:"soft_limit_mb"`
		MaxPixels           int64    `toml:"max_pixels"`
		MaxFiles            int      `toml:"max_files"`
	} `toml:"upload"`
	Search struct {
		BaseURL           string `toml:"base_url"`
		APIKey            string `toml:"api_key"`
		PerTermDefault    int    `toml:"per_term_default"`
		MaxPerTerm        int    `toml:"max_per_term"`
		RequestsPerMinute int    `toml:"requests_per_minute"`
		TimeoutSeconds    int    `toml:"timeout_seconds"`
	} `toml:"search"`
	Notify struct {
		SMTPHost string   `toml:"smtp_host"`
		SMTPPort int      `toml:"smtp_port"`
		SMTPFrom string   `toml:"smtp_from"`
		SMTPTo   []string `toml:"smtp_to"`
		SMTPPass string   `toml:"smtp_pass"`
	} `toml:"notify"`
	Archive struct {
		Path string `toml:"path"`
	} `toml:"archive"`
	Storage struct {
		S3 struct {
			Bucket    string `toml:"bucket"`
			Region    string `toml:"region"`
			Endpoint  string `toml:"endpoint"`
			Prefix    string `toml:"prefix"`
			PathStyle bool   `toml:"path_style"`

			AccessKeyID     string `toml:"access_key_id"`
			SecretAccessKey string `toml:"secret_access_key"`
		} `toml:"s3"`
	} `toml:"storage"`
	Logging struct {
		JSON  bool   `toml:"json"`
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
}
