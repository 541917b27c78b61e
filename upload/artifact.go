package upload

import (
	"io"
	"os"
	"path/filepath"

	"github.com/teranos/lookout/errors"
)

// Artifact is a validated upload sitting in a temp file. The caller owns it
// and must either MoveTo a run directory or Discard it.
type Artifact struct {
	ContentType  string
	Path         string
	Size         int64
	SHA256       string
	OriginalName string // client filename, informational only

	discarded bool
}

// MoveTo moves the artifact into dir under name and updates Path. A rename
// across filesystems falls back to copy and remove.
func (a *Artifact) MoveTo(dir, name string) error {
	if a.discarded {
		return errors.Newf("artifact %s was discarded", a.Path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	dest := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(a.Path, dest); err != nil {
		if err := copyFile(a.Path, dest); err != nil {
			return errors.Wrapf(err, "failed to move upload to %s", dest)
		}
		os.Remove(a.Path)
	}
	a.Path = dest
	return nil
}

// Discard removes the artifact's file. Calling it more than once is fine.
func (a *Artifact) Discard() error {
	if a.discarded {
		return nil
	}
	a.discarded = true
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", a.Path)
	}
	return nil
}

// DiscardAll discards every artifact, ignoring individual failures
func DiscardAll(artifacts []*Artifact) {
	for _, a := range artifacts {
		_ = a.Discard()
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
