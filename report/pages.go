package report

import "io"

// HomeData fills the upload and query forms
type HomeData struct {
	Confidence    float64
	PerTerm       int
	MaxPerTerm    int
	AllowedTypes  []string
	MaxMB         int
	SearchEnabled bool
}

// HomePage renders the landing page with both submission forms
func HomePage(w io.Writer, data HomeData) error {
	return templates.ExecuteTemplate(w, "home.html", data)
}

// ProcessingPage renders the placeholder shown while a run has no report
// yet. It reloads itself every RefreshSeconds.
func ProcessingPage(w io.Writer, runID, reportName string) error {
	return templates.ExecuteTemplate(w, "processing.html", struct {
		RunID          string
		Report         string
		RefreshSeconds int
	}{runID, reportName, RefreshSeconds})
}
