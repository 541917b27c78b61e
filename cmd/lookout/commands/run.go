package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/pipeline"
	"github.com/teranos/lookout/search"
	"github.com/teranos/lookout/upload"
)

// cliClientID is the admission identity of one-shot runs
const cliClientID = "cli"

// RunCmd runs one detection batch in the foreground
var RunCmd = &cobra.Command{
	Use:   "run [files or directories...]",
	Short: "Run detection once over local images or a search query",
	Long: `Validate local images (or download them for --query), run the detector and
write the HTML report, without starting the server.

Examples:
  lookout run ./photos
  lookout run cat.jpg dog.png --conf 0.4
  lookout run --query "red car, bicycle" -n 5`,
	RunE: runOnce,
}

var (
	runQuery string
	runCount int
	runConf  float64
	runJSON  bool
)

func init() {
	RunCmd.Flags().StringVarP(&runQuery, "query", "q", "", "Comma separated search terms instead of local files")
	RunCmd.Flags().IntVarP(&runCount, "count", "n", 0, "Images per search term (default search.per_term_default)")
	RunCmd.Flags().Float64Var(&runConf, "conf", 0, "Confidence threshold (default detector.confidence_threshold)")
	RunCmd.Flags().BoolVar(&runJSON, "json", false, "Print detections as JSON")
}

func runOnce(cmd *cobra.Command, args []string) error {
	if (runQuery == "") == (len(args) == 0) {
		return errors.NewInvalidRequestError("pass either files/directories or --query")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := initLogging(cmd, cfg, 0); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to wire lookout")
	}
	defer a.close()

	conf := cfg.Detector.ConfidenceThreshold
	if cmd.Flags().Changed("conf") {
		if runConf < 0 || runConf > 1 {
			return errors.NewInvalidRequestError("--conf must be between 0 and 1, got %v", runConf)
		}
		conf = runConf
	}

	slot, ok := a.admission.TryAcquire(cliClientID)
	if !ok {
		return admission.ErrAdmissionDenied
	}

	run, err := prepareRun(ctx, a, args, conf)
	if err != nil {
		slot.Release()
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Detecting objects in %d image(s)...", run.Images))
	result, err := a.executor.Execute(ctx, run, slot)
	if err != nil {
		spinner.Fail("Run failed")
		return err
	}
	spinner.Success(fmt.Sprintf("Run %s complete", run.ID))

	if runJSON {
		return printJSON(result.Summaries)
	}
	printSummaries(result)
	return nil
}

// prepareRun fills the run's source directory from local files or search
func prepareRun(ctx context.Context, a *app, args []string, conf float64) (*pipeline.Run, error) {
	now := time.Now()
	var slugBase string
	var files []string
	if runQuery != "" {
		slugBase = pipeline.QuerySlugBase(runQuery)
	} else {
		var err error
		if files, err = collectFiles(args); err != nil {
			return nil, err
		}
		slugBase = pipeline.UploadSlugBase(files)
	}

	run := &pipeline.Run{
		ID:         pipeline.NewRunID(slugBase, now),
		ClientID:   cliClientID,
		Confidence: conf,
		CreatedAt:  now,
	}
	run.SourceDir = filepath.Join(a.cfg.Paths.Resolve(a.cfg.Paths.InputDir), run.ID)
	run.OutputDir = filepath.Join(a.cfg.Paths.Resolve(a.cfg.Paths.ProcessedDir), run.ID)

	var err error
	if runQuery != "" {
		run.Images, err = downloadTerms(ctx, a, run.SourceDir)
	} else {
		run.Images, err = importFiles(ctx, a, files, run.SourceDir)
	}
	if err != nil {
		os.RemoveAll(run.SourceDir)
		return nil, err
	}
	if run.Images == 0 {
		os.RemoveAll(run.SourceDir)
		return nil, errors.NewInvalidRequestError("no images to process")
	}
	return run, nil
}

// collectFiles expands directories (non-recursive) into regular files
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read %s", arg)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot list %s", arg)
		}
		for _, e := range entries {
			if e.Type()&fs.ModeType == 0 && e.Name()[0] != '.' {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	return files, nil
}

// importFiles validates every file with the upload policy. One bad file
// rejects the batch.
func importFiles(ctx context.Context, a *app, files []string, sourceDir string) (int, error) {
	readers := make([]upload.NamedReader, 0, len(files))
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return 0, errors.Wrapf(err, "cannot open %s", path)
		}
		defer f.Close()
		readers = append(readers, upload.NamedReader{Name: filepath.Base(path), Reader: f})
	}

	artifacts, err := a.validator.ValidateAll(ctx, readers, a.policy)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(artifacts))
	for i, art := range artifacts {
		name := art.OriginalName
		if seen[name] {
			name = strconv.Itoa(i+1) + "_" + name
		}
		seen[name] = true
		if err := art.MoveTo(sourceDir, name); err != nil {
			upload.DiscardAll(artifacts)
			return 0, err
		}
	}
	return len(artifacts), nil
}

// downloadTerms fetches runCount images per term. A failed term is
// reported and skipped.
func downloadTerms(ctx context.Context, a *app, sourceDir string) (int, error) {
	terms := search.SplitTerms(runQuery)
	if len(terms) == 0 {
		return 0, errors.NewInvalidRequestError("--query has no terms")
	}
	n := runCount
	if n <= 0 {
		n = a.cfg.Search.PerTermDefault
	}
	if limit := a.cfg.Search.MaxPerTerm; limit > 0 && n > limit {
		n = limit
	}

	total := 0
	for _, term := range terms {
		paths, err := a.search.Download(ctx, term, n, sourceDir)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errors.Is(err, search.ErrNotConfigured) {
			return 0, err
		}
		if err != nil {
			pterm.Warning.Printf("Search for %q failed: %v\n", term, err)
			continue
		}
		pterm.Info.Printf("%q: %d image(s)\n", term, len(paths))
		total += len(paths)
	}
	return total, nil
}
