package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"image"
	"io"
	"net/http"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register webp with image.Decode

	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
)

// Validator defaults
const (
	DefaultChunkSize = 8192
	DefaultSniffSize = 32 << 10
)

// Validator streams an upload to a temp file while enforcing a Policy.
// The zero value is ready to use; TempDir "" means os.TempDir().
type Validator struct {
	TempDir   string
	ChunkSize int
	SniffSize int
}

// NamedReader is one file of a batch
type NamedReader struct {
	Name   string
	Reader io.Reader
}

// Validate consumes r chunk by chunk. The bytes go to a fresh temp file as
// they arrive; at most one chunk past the limit is ever read. Any rejection
// removes the temp file before returning.
func (v *Validator) Validate(ctx context.Context, r io.Reader, policy *Policy) (*Artifact, error) {
	chunkSize := v.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	sniffSize := v.SniffSize
	if sniffSize <= 0 {
		sniffSize = DefaultSniffSize
	}

	f, err := os.CreateTemp(v.TempDir, "upload-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create upload temp file")
	}
	path := f.Name()

	reject := func(err error) (*Artifact, error) {
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warnw("Failed to remove rejected upload", logger.FieldPath, path, logger.FieldError, rmErr)
		}
		return nil, err
	}

	sum := sha256.New()
	prefix, total, err := copyBounded(ctx, f, sum, r, policy.MaxBytes(), chunkSize, sniffSize)
	if err != nil {
		return reject(err)
	}
	if err := f.Close(); err != nil {
		return reject(errors.Wrap(err, "failed to flush upload temp file"))
	}

	detected := normalizeContentType(http.DetectContentType(prefix))
	if !policy.Allows(detected) {
		return reject(&UnsupportedTypeError{Detected: detected, Allowed: policy.ContentTypes()})
	}

	if err := decodeCheck(path, detected, policy.MaxPixels()); err != nil {
		return reject(err)
	}

	if soft := policy.SoftLimitBytes(); soft > 0 && total > soft {
		logger.Warnw("Upload above soft size limit",
			logger.FieldSize, total,
			logger.FieldLimit, soft,
			logger.FieldContentType, detected)
	}

	return &Artifact{
		ContentType: detected,
		Path:        path,
		Size:        total,
		SHA256:      hex.EncodeToString(sum.Sum(nil)),
	}, nil
}

// PartSource yields the next file of a batch and io.EOF after the last one.
// The returned reader is only valid until the next call.
type PartSource func() (NamedReader, error)

// ValidateStream validates files as source yields them. On the first failure
// every artifact already produced for the batch is discarded. A validation
// failure comes back as *BatchError; a source error is returned as is. A
// file past policy.MaxFiles() fails the batch without being read.
func (v *Validator) ValidateStream(ctx context.Context, source PartSource, policy *Policy) ([]*Artifact, error) {
	var artifacts []*Artifact
	for i := 0; ; i++ {
		file, err := source()
		if err == io.EOF {
			return artifacts, nil
		}
		if err != nil {
			DiscardAll(artifacts)
			return nil, err
		}
		if limit := policy.MaxFiles(); limit > 0 && i >= limit {
			DiscardAll(artifacts)
			return nil, &BatchError{Index: i, Filename: file.Name, Err: &TooManyFilesError{Max: limit}}
		}

		a, err := v.Validate(ctx, file.Reader, policy)
		if err != nil {
			DiscardAll(artifacts)
			return nil, &BatchError{Index: i, Filename: file.Name, Err: err}
		}
		a.OriginalName = file.Name
		artifacts = append(artifacts, a)
	}
}

// ValidateAll validates files in order with the same cleanup as
// ValidateStream
func (v *Validator) ValidateAll(ctx context.Context, files []NamedReader, policy *Policy) ([]*Artifact, error) {
	next := 0
	artifacts, err := v.ValidateStream(ctx, func() (NamedReader, error) {
		if next == len(files) {
			return NamedReader{}, io.EOF
		}
		next++
		return files[next-1], nil
	}, policy)
	if err != nil {
		return nil, err
	}
	if artifacts == nil {
		artifacts = []*Artifact{}
	}
	return artifacts, nil
}

// copyBounded writes r into dst chunk by chunk and returns the sniff prefix
// and the byte count. It stops with *OversizeError once the running total
// goes strictly above limit. A failing reader (a body cut off mid-file, a
// dropped connection) is the client's fault and is marked ErrInvalidRequest.
func copyBounded(ctx context.Context, dst io.Writer, sum hash.Hash, r io.Reader, limit int64, chunkSize, sniffSize int) ([]byte, int64, error) {
	buf := make([]byte, chunkSize)
	prefix := make([]byte, 0, sniffSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, total, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return nil, total, &OversizeError{Limit: limit}
			}

			chunk := buf[:n]
			if room := sniffSize - len(prefix); room > 0 {
				if room > n {
					room = n
				}
				prefix = append(prefix, chunk[:room]...)
			}
			if _, err := dst.Write(chunk); err != nil {
				return nil, total, errors.Wrap(err, "failed to write upload chunk")
			}
			sum.Write(chunk)
		}

		if readErr == io.EOF {
			return prefix, total, nil
		}
		if readErr != nil {
			return nil, total, errors.Mark(
				errors.Wrap(readErr, "failed to read upload stream"), errors.ErrInvalidRequest)
		}
	}
}

// decodeCheck reads the image header first and refuses anything above
// maxPixels before the full decode allocates a pixel buffer for it.
func decodeCheck(path, contentType string, maxPixels int64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to reopen upload")
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return &CorruptContentError{ContentType: contentType, Cause: err}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return &DimensionsError{Width: cfg.Width, Height: cfg.Height, MaxPixels: maxPixels}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to rewind upload")
	}
	if _, err := imaging.Decode(f); err != nil {
		return &CorruptContentError{ContentType: contentType, Cause: err}
	}
	return nil
}
