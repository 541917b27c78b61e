// Package report renders the HTML pages lookout serves: the per-run
// detection report, the "still processing" placeholder and the home page.
package report

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/pipeline"
)

// ThumbnailWidth is the width of report thumbnails in pixels
const ThumbnailWidth = 320

// RefreshSeconds is how often the processing page reloads
const RefreshSeconds = 3

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"join":    strings.Join,
}).ParseFS(templateFS, "templates/*.html"))

// HTMLReporter writes report_<runID>.html into ReportsDir. Image links point
// below ProcessedURL, where ProcessedDir is served.
type HTMLReporter struct {
	ReportsDir   string
	ReportsURL   string // default /reports
	ProcessedURL string // default /processed
	MaxPixels    int64  // images above this are linked without a thumbnail

	logger  *zap.SugaredLogger
	timeNow func() time.Time
}

// NewHTMLReporter creates a reporter writing into reportsDir
func NewHTMLReporter(reportsDir string) *HTMLReporter {
	return &HTMLReporter{
		ReportsDir:   reportsDir,
		ReportsURL:   "/reports",
		ProcessedURL: "/processed",
		MaxPixels:    am.DefaultMaxPixels,
		logger:       logger.ComponentLogger("report"),
		timeNow:      time.Now,
	}
}

type reportRow struct {
	pipeline.DetectionSummary
	ImageURL string
	ThumbURL string
}

type labelCount struct {
	Label string
	Count int
}

type reportData struct {
	RunID       string
	GeneratedAt time.Time
	Confidence  float64
	Rows        []reportRow
	Counts      []labelCount
}

// Render writes the report for run. Thumbnails go to <OutputDir>/thumbs; a
// thumbnail that cannot be made falls back to the full image.
func (h *HTMLReporter) Render(ctx context.Context, run *pipeline.Run, summaries []pipeline.DetectionSummary) (pipeline.ReportHandle, error) {
	data := reportData{
		RunID:       run.ID,
		GeneratedAt: h.timeNow(),
		Confidence:  run.Confidence,
		Counts:      countLabels(summaries),
	}

	thumbs := make(map[string]string)
	for _, s := range summaries {
		if err := ctx.Err(); err != nil {
			return pipeline.ReportHandle{}, err
		}

		file := filepath.Base(s.ImageRef)
		imageURL := h.ProcessedURL + "/" + s.ImageRef
		thumbURL, ok := thumbs[file]
		if !ok {
			thumbURL = imageURL
			if err := h.thumbnail(run, file); err != nil {
				h.logger.Debugw("Thumbnail skipped", logger.FieldRunID, run.ID, logger.FieldFile, file, logger.FieldError, err)
			} else {
				thumbURL = h.ProcessedURL + "/" + run.ID + "/thumbs/" + file
			}
			thumbs[file] = thumbURL
		}
		data.Rows = append(data.Rows, reportRow{DetectionSummary: s, ImageURL: imageURL, ThumbURL: thumbURL})
	}

	name := run.ReportName()
	path := filepath.Join(h.ReportsDir, name)
	if err := writeAtomic(path, func(w io.Writer) error {
		return templates.ExecuteTemplate(w, "report.html", data)
	}); err != nil {
		return pipeline.ReportHandle{}, errors.Wrapf(err, "failed to write report %s", name)
	}

	return pipeline.ReportHandle{Name: name, Path: path, URL: h.ReportsURL + "/" + name}, nil
}

// thumbnail resizes the annotated image (or the raw input when the detector
// left no annotated copy) into <OutputDir>/thumbs/<file>
func (h *HTMLReporter) thumbnail(run *pipeline.Run, file string) error {
	src := filepath.Join(run.OutputDir, file)
	if _, err := os.Stat(src); err != nil {
		src = filepath.Join(run.SourceDir, file)
	}

	if err := h.checkDimensions(src); err != nil {
		return err
	}
	img, err := imaging.Open(src)
	if err != nil {
		return err
	}

	dir := filepath.Join(run.OutputDir, "thumbs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	thumb := imaging.Resize(img, ThumbnailWidth, 0, imaging.Lanczos)
	return imaging.Save(thumb, filepath.Join(dir, file))
}

// checkDimensions reads only the image header. Search downloads never pass
// through the upload validator, so this is the one cap before imaging.Open.
func (h *HTMLReporter) checkDimensions(path string) error {
	if h.MaxPixels <= 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return err
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > h.MaxPixels {
		return errors.Newf("image is %dx%d, above the %d pixel limit", cfg.Width, cfg.Height, h.MaxPixels)
	}
	return nil
}

func countLabels(summaries []pipeline.DetectionSummary) []labelCount {
	counts := make(map[string]int)
	for _, s := range summaries {
		counts[s.Label]++
	}
	out := make([]labelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, labelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// writeAtomic renders into a temp file next to path and renames it over
// path, so pollers never see a half-written report
func writeAtomic(path string, render func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := render(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
