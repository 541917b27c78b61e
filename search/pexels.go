// Package search expands search terms into downloaded images.
package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/internal/httpclient"
	"github.com/teranos/lookout/logger"
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.Mark(errors.New("image search is not configured (set PEXELS_API_KEY)"), errors.ErrServiceUnavailable)

// maxImageBytes caps a single downloaded photo
const maxImageBytes = 50 << 20

// Client downloads up to n images for term into destDir and returns the
// paths it wrote
type Client interface {
	Download(ctx context.Context, term string, n int, destDir string) ([]string, error)
}

// PexelsClient searches the Pexels API. There are no retries; a failed
// request fails the term.
type PexelsClient struct {
	baseURL string
	apiKey  string
	http    *httpclient.SaferClient
	logger  *zap.SugaredLogger
}

// NewPexelsClient builds a client from the [search] section. A nil http
// client gets an SSRF-guarded one rate limited per requests_per_minute.
func NewPexelsClient(cfg am.SearchConfig, client *httpclient.SaferClient) *PexelsClient {
	if client == nil {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		client = httpclient.NewSaferClient(timeout, httpclient.WithRequestsPerMinute(cfg.RequestsPerMinute))
	}
	return &PexelsClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    client,
		logger:  logger.ComponentLogger("search.pexels"),
	}
}

// Configured reports whether an API key is set
func (c *PexelsClient) Configured() bool { return c.apiKey != "" }

type searchResponse struct {
	Photos []struct {
		ID  int64 `json:"id"`
		Src struct {
			Original string `json:"original"`
		} `json:"src"`
	} `json:"photos"`
}

// Download fetches up to n photos for term. Files are named by the first 12
// hex chars of the SHA-1 of their bytes; a photo already present in destDir
// is skipped and not returned.
func (c *PexelsClient) Download(ctx context.Context, term string, n int, destDir string) ([]string, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if n <= 0 {
		return nil, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", destDir)
	}

	photos, err := c.search(ctx, term, n)
	if err != nil {
		return nil, err
	}

	var saved []string
	for _, src := range photos {
		p, err := c.fetch(ctx, src, destDir)
		if err != nil {
			c.logger.Warnw("Photo download failed", logger.FieldQuery, term, "url", src, logger.FieldError, err)
			continue
		}
		if p == "" {
			c.logger.Debugw("Photo already present, skipping", logger.FieldQuery, term, "url", src)
			continue
		}
		saved = append(saved, p)
	}

	c.logger.Infow("Search download complete",
		logger.FieldQuery, term,
		"requested", n,
		logger.FieldCount, len(saved))
	return saved, nil
}

func (c *PexelsClient) search(ctx context.Context, term string, n int) ([]string, error) {
	q := url.Values{}
	q.Set("query", term)
	q.Set("per_page", strconv.Itoa(n))
	endpoint := c.baseURL + "/v1/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "search for %q failed", term)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.WithDetail(
			errors.Newf("search for %q returned %s", term, resp.Status),
			strings.TrimSpace(string(body)))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	urls := make([]string, 0, len(sr.Photos))
	for _, p := range sr.Photos {
		if p.Src.Original != "" {
			urls = append(urls, p.Src.Original)
		}
		if len(urls) == n {
			break
		}
	}
	return urls, nil
}

// fetch streams one photo into destDir. It returns "" when the content was
// already there.
func (c *PexelsClient) fetch(ctx context.Context, src, destDir string) (string, error) {
	resp, err := c.http.Get(ctx, src)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("download returned %s", resp.Status)
	}

	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha1.New()
	written, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(resp.Body, maxImageBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", errors.Wrap(err, "failed to write download")
	}
	if closeErr != nil {
		return "", closeErr
	}
	if written > maxImageBytes {
		return "", errors.Newf("photo larger than %d bytes", maxImageBytes)
	}

	name := ImmutableName(hex.EncodeToString(h.Sum(nil)), extensionOf(src))
	dest := filepath.Join(destDir, name)
	if _, err := os.Stat(dest); err == nil {
		return "", nil
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// ImmutableName is the first 12 hex chars of a content hash plus ext, so
// identical bytes always land on the same file
func ImmutableName(hexDigest, ext string) string {
	if len(hexDigest) > 12 {
		hexDigest = hexDigest[:12]
	}
	return fmt.Sprintf("%s%s", hexDigest, ext)
}

func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

// SplitTerms splits a comma separated query into trimmed, non-empty terms
func SplitTerms(query string) []string {
	var terms []string
	for _, t := range strings.Split(query, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}
