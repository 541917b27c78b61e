// Package detect runs object detection over a directory of images. The model
// itself lives outside this process; CommandDetector shells out to it.
package detect

import "context"

// Request describes one detection pass over a run's input directory
type Request struct {
	SourceDir  string
	OutputDir  string // annotated copies are written here
	Confidence float64
}

// Object is a single detection inside one image
type Object struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"` // x1, y1, x2, y2 in pixels
}

// Timing is the per-image cost reported by the detector
type Timing struct {
	PreprocessMS  float64 `json:"preprocess_ms"`
	InferenceMS   float64 `json:"inference_ms"`
	PostprocessMS float64 `json:"postprocess_ms"`
}

// Total returns the sum of all phases in milliseconds
func (t Timing) Total() float64 {
	return t.PreprocessMS + t.InferenceMS + t.PostprocessMS
}

// ImageResult is the detector output for one processed image
type ImageResult struct {
	Path    string   `json:"path"`
	Objects []Object `json:"objects"`
	Timing  Timing   `json:"timing"`
}

// Detector runs detection over every image in Request.SourceDir
type Detector interface {
	Detect(ctx context.Context, req Request) ([]ImageResult, error)
}
