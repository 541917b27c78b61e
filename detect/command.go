package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
)

// maxStderrDetail caps how much detector stderr ends up in an error
const maxStderrDetail = 2048

// CommandDetector runs an external detection command. Each argument may
// contain {source}, {output}, {conf} and {model} placeholders. The command
// must print {"images":[...]} as JSON on stdout.
type CommandDetector struct {
	argv    []string
	model   string
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewCommandDetector parses the configured command line
func NewCommandDetector(cfg am.DetectorConfig, modelPath string) (*CommandDetector, error) {
	argv, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid detector.command %q", cfg.Command), errors.ErrConfiguration)
	}
	if len(argv) == 0 {
		return nil, errors.NewConfigurationError("detector.command is empty")
	}

	return &CommandDetector{
		argv:    argv,
		model:   modelPath,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logger.ComponentLogger("detect"),
	}, nil
}

type commandOutput struct {
	Images []ImageResult `json:"images"`
}

// Detect runs the command and parses its JSON report
func (d *CommandDetector) Detect(ctx context.Context, req Request) ([]ImageResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := d.expand(req)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	d.logger.Debugw("Starting detector",
		"binary", args[0],
		logger.FieldPath, req.SourceDir,
		"confidence", req.Confidence)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrapf(ctxErr, "detector did not finish within %s", d.timeout)
		} else {
			err = errors.Wrap(err, "detector command failed")
		}
		return nil, withStderr(err, stderr.Bytes())
	}

	var out commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, withStderr(errors.Wrap(err, "detector printed invalid JSON"), stderr.Bytes())
	}

	d.logger.Infow("Detector finished",
		logger.FieldCount, len(out.Images),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return out.Images, nil
}

func (d *CommandDetector) expand(req Request) []string {
	r := strings.NewReplacer(
		"{source}", req.SourceDir,
		"{output}", req.OutputDir,
		"{conf}", strconv.FormatFloat(req.Confidence, 'f', -1, 64),
		"{model}", d.model,
	)
	args := make([]string, len(d.argv))
	for i, a := range d.argv {
		args[i] = r.Replace(a)
	}
	return args
}

func withStderr(err error, stderr []byte) error {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return err
	}
	if len(s) > maxStderrDetail {
		s = s[len(s)-maxStderrDetail:]
	}
	return errors.WithDetail(err, fmt.Sprintf("stderr: %s", s))
}
