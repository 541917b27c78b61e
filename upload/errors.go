package upload

import (
	"fmt"

	"github.com/teranos/lookout/errors"
)

// ErrValidation matches every rejection produced by the validator
var ErrValidation = errors.New("upload rejected")

// ValidationError is implemented by every rejection the validator returns.
// Kind is a stable short name used for metrics and client replies.
type ValidationError interface {
	error
	Kind() string
}

// Rejection kinds
const (
	KindOversize    = "oversize"
	KindUnsupported = "unsupported_type"
	KindCorrupt     = "corrupt"
	KindDimensions  = "dimensions"
	KindTooMany     = "too_many_files"
)

// OversizeError is returned as soon as a stream goes past the policy limit
type OversizeError struct {
	Limit int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("file exceeds the %d byte limit (%s)", e.Limit, humanBytes(e.Limit))
}

func (e *OversizeError) Kind() string         { return KindOversize }
func (e *OversizeError) Is(target error) bool { return target == ErrValidation }

// UnsupportedTypeError carries the sniffed content type that was refused
type UnsupportedTypeError struct {
	Detected string
	Allowed  []string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported content type %q (allowed: %v)", e.Detected, e.Allowed)
}

func (e *UnsupportedTypeError) Kind() string         { return KindUnsupported }
func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrValidation }

// CorruptContentError means the bytes sniffed as an image but did not decode
type CorruptContentError struct {
	ContentType string
	Cause       error
}

func (e *CorruptContentError) Error() string {
	return fmt.Sprintf("file is corrupted: not a decodable %s", e.ContentType)
}

func (e *CorruptContentError) Kind() string         { return KindCorrupt }
func (e *CorruptContentError) Unwrap() error        { return e.Cause }
func (e *CorruptContentError) Is(target error) bool { return target == ErrValidation }

// DimensionsError is returned when the image header declares more pixels
// than the policy allows. Nothing past the header is decoded.
type DimensionsError struct {
	Width, Height int
	MaxPixels     int64
}

func (e *DimensionsError) Error() string {
	return fmt.Sprintf("image is %dx%d (%d pixels), limit is %d pixels",
		e.Width, e.Height, int64(e.Width)*int64(e.Height), e.MaxPixels)
}

func (e *DimensionsError) Kind() string         { return KindDimensions }
func (e *DimensionsError) Is(target error) bool { return target == ErrValidation }

// TooManyFilesError is returned for the first file past the batch limit
type TooManyFilesError struct {
	Max int
}

func (e *TooManyFilesError) Error() string {
	return fmt.Sprintf("batch has more than %d files", e.Max)
}

func (e *TooManyFilesError) Kind() string         { return KindTooMany }
func (e *TooManyFilesError) Is(target error) bool { return target == ErrValidation }

// BatchError reports the first file of a batch that failed validation
type BatchError struct {
	Index    int
	Filename string
	Err      error
}

func (e *BatchError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("file #%d: %v", e.Index+1, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// KindOf returns the rejection kind carried by err, or "" when err is not a
// validation rejection
func KindOf(err error) string {
	var ve ValidationError
	if errors.As(err, &ve) {
		return ve.Kind()
	}
	return ""
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
