// Package version carries build information stamped in via ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/lookout/errors"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// Info contains version and build information
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	Release    bool   `json:"release"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	_, err := Parse(Version)
	return Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		Release:    err == nil,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Parse reads a release version such as v1.4.0. "dev" and other untagged
// builds are not releases.
func Parse(v string) (*semver.Version, error) {
	if v == "" || v == "dev" {
		return nil, errors.New("untagged development build")
	}
	sv, err := semver.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version %q", v)
	}
	return sv, nil
}

// Satisfies reports whether this build meets constraint, e.g. ">= 1.2, < 2".
// Development builds satisfy nothing.
func (i Info) Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, errors.Wrapf(err, "invalid version constraint %q", constraint)
	}
	v, err := Parse(i.Version)
	if err != nil {
		return false, nil
	}
	return c.Check(v), nil
}

// String returns a human-readable version string
func (i Info) String() string {
	if i.Version != "dev" {
		return fmt.Sprintf("lookout %s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildTime)
	}
	return fmt.Sprintf("lookout dev (commit %s, built %s)", i.CommitHash, i.BuildTime)
}

// Short returns the version for releases and the short commit otherwise
func (i Info) Short() string {
	if i.Release {
		return i.Version
	}
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
