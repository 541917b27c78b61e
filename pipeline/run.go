// Package pipeline runs one admitted detection job end to end: detect,
// summarize, report, notify. The Dispatcher hands runs to background
// goroutines so the request that admitted them can return immediately.
package pipeline

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug defaults
const (
	DefaultSlugLength = 30
	fallbackSlug      = "query"
	bulkUploadSlug    = "bulk_upload"
	runIDTimeLayout   = "2006-01-02T15-04-05"
)

// Run is one detection job. The value lives only as long as its background
// goroutine; everything durable is on disk under the run ID.
type Run struct {
	ID         string
	ClientID   string
	SourceDir  string // raw inputs
	OutputDir  string // annotated detector output
	Confidence float64
	Images     int // inputs written to SourceDir at submit time
	CreatedAt  time.Time
}

// ReportName is the deterministic report file for the run
func (r *Run) ReportName() string {
	return ReportName(r.ID)
}

// ReportName returns report_<runID>.html
func ReportName(runID string) string {
	return "report_" + runID + ".html"
}

// DetectionSummary is one object that cleared the confidence threshold
type DetectionSummary struct {
	ImageRef   string  `json:"image"` // <runID>/<file>
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ReportHandle locates a rendered report
type ReportHandle struct {
	Name string // report_<runID>.html
	Path string // on disk
	URL  string // served path, /reports/<name>
}

// NewRunID returns <slug>_<YYYY-MM-DDTHH-MM-SS>
func NewRunID(slugBase string, now time.Time) string {
	return Slugify(slugBase, DefaultSlugLength) + "_" + now.Format(runIDTimeLayout)
}

// UploadSlugBase picks the slug base for an upload batch: the file stem for
// a single file, bulk_upload otherwise
func UploadSlugBase(filenames []string) string {
	if len(filenames) != 1 {
		return bulkUploadSlug
	}
	name := filepath.Base(filenames[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// QuerySlugBase turns "cat, dog" into "cat  dog" for slugging
func QuerySlugBase(query string) string {
	return strings.ReplaceAll(query, ",", " ")
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// Slugify folds text to lowercase ASCII-ish words joined by "-". Accents are
// stripped, runs of anything else collapse to one "-", and the result is
// cut to maxLen. Empty results fall back to "query".
func Slugify(text string, maxLen int) string {
	folded, _, err := transform.String(stripMarks, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingDash := false
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	slug := b.String()
	if maxLen > 0 && len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}
