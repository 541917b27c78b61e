// Package upload validates untrusted upload streams against an allow-list
// and a size ceiling before anything expensive happens to them.
package upload

import (
	"sort"
	"strings"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
)

const megabyte = 1 << 20

// Policy is an immutable upload policy. It is safe to share between any
// number of concurrent validations.
type Policy struct {
	allowed   map[string]struct{}
	maxBytes  int64
	softBytes int64
	maxPixels int64
	maxFiles  int
}

// NewPolicy builds a policy. Content types are trimmed and lower-cased.
func NewPolicy(allowed []string, maxBytes int64) (*Policy, error) {
	if len(allowed) == 0 {
		return nil, errors.NewConfigurationError("upload policy needs at least one allowed content type")
	}
	if maxBytes <= 0 {
		return nil, errors.NewConfigurationError("upload policy max bytes must be positive, got %d", maxBytes)
	}

	set := make(map[string]struct{}, len(allowed))
	for i, ct := range allowed {
		ct = strings.ToLower(strings.TrimSpace(ct))
		if ct == "" {
			return nil, errors.NewConfigurationError("upload policy content type #%d is empty", i)
		}
		set[ct] = struct{}{}
	}

	return &Policy{
		allowed:   set,
		maxBytes:  maxBytes,
		maxPixels: am.DefaultMaxPixels,
		maxFiles:  am.DefaultMaxUploadFiles,
	}, nil
}

// WithLimits returns a copy of p with a different pixel cap and batch size.
// Zero keeps the current value.
func (p *Policy) WithLimits(maxPixels int64, maxFiles int) (*Policy, error) {
	if maxPixels < 0 {
		return nil, errors.NewConfigurationError("upload max pixels must be positive, got %d", maxPixels)
	}
	if maxFiles < 0 {
		return nil, errors.NewConfigurationError("upload max files must be positive, got %d", maxFiles)
	}
	cp := *p
	if maxPixels > 0 {
		cp.maxPixels = maxPixels
	}
	if maxFiles > 0 {
		cp.maxFiles = maxFiles
	}
	return &cp, nil
}

// PolicyFromConfig builds a policy from the [upload] config section
func PolicyFromConfig(cfg am.UploadConfig) (*Policy, error) {
	p, err := NewPolicy(cfg.AllowedContentTypes, int64(cfg.MaxMB)*megabyte)
	if err != nil {
		return nil, err
	}
	if cfg.SoftLimitMB < 0 || cfg.SoftLimitMB > cfg.MaxMB {
		return nil, errors.NewConfigurationError("upload soft limit %d MB must be in 0..%d MB", cfg.SoftLimitMB, cfg.MaxMB)
	}
	p.softBytes = int64(cfg.SoftLimitMB) * megabyte
	return p.WithLimits(cfg.MaxPixels, cfg.MaxFiles)
}

// Allows reports whether contentType (parameters ignored) is on the allow-list
func (p *Policy) Allows(contentType string) bool {
	_, ok := p.allowed[normalizeContentType(contentType)]
	return ok
}

// MaxBytes is the largest accepted stream size (inclusive)
func (p *Policy) MaxBytes() int64 { return p.maxBytes }

// SoftLimitBytes is the size above which accepted uploads are logged (0 = off)
func (p *Policy) SoftLimitBytes() int64 { return p.softBytes }

// MaxPixels is the largest accepted width*height, checked from the image
// header before any pixel data is decoded
func (p *Policy) MaxPixels() int64 { return p.maxPixels }

// MaxFiles is the largest number of files accepted in one batch
func (p *Policy) MaxFiles() int { return p.maxFiles }

// ContentTypes returns the allow-list, sorted
func (p *Policy) ContentTypes() []string {
	out := make([]string, 0, len(p.allowed))
	for ct := range p.allowed {
		out = append(out, ct)
	}
	sort.Strings(out)
	return out
}

// normalizeContentType strips parameters like "; charset=utf-8"
func normalizeContentType(ct string) string {
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
