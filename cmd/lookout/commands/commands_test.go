package commands

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/archive"
	"github.com/teranos/lookout/notify"
)

func testConfig(t *testing.T, extra string) *am.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lookout.toml")
	body := "[paths]\nbase_dir = \"" + filepath.ToSlash(dir) + "\"\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := am.LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestBuildApp_OptionalCollaborators(t *testing.T) {
	cfg := testConfig(t, "[archive]\npath = \"\"\n")
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.archive)
	assert.Nil(t, a.executor.Archive)
	assert.Nil(t, a.executor.Publisher)
	assert.IsType(t, notify.Nop{}, a.executor.Notifier)
	assert.False(t, a.search.Configured())
	assert.DirExists(t, a.reportsDir)
	assert.DirExists(t, a.validator.TempDir)
}

func TestBuildApp_WithArchive(t *testing.T) {
	cfg := testConfig(t, "[archive]\npath = \"data/history.db\"\n")
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	require.NotNil(t, a.archive)
	assert.IsType(t, &archive.Store{}, a.executor.Archive)
	assert.FileExists(t, filepath.Join(cfg.Paths.BaseDir, "data", "history.db"))
}

func TestBuildApp_RejectsBadDetectorCommand(t *testing.T) {
	cfg := testConfig(t, "[detector]\ncommand = \"yolo 'unterminated\"\n")
	_, err := buildApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))
	writePNG(t, filepath.Join(dir, ".hidden.png"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	single := filepath.Join(t.TempDir(), "b.png")
	writePNG(t, single)

	files, err := collectFiles([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), single}, files)

	_, err = collectFiles([]string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}

func TestPrepareRun_ImportsFiles(t *testing.T) {
	cfg := testConfig(t, "[archive]\npath = \"\"\n")
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	src := t.TempDir()
	writePNG(t, filepath.Join(src, "cat.png"))

	runQuery = ""
	run, err := prepareRun(context.Background(), a, []string{src}, 0.3)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Images)
	assert.Equal(t, cliClientID, run.ClientID)
	assert.Contains(t, run.ID, "cat_")
	assert.FileExists(t, filepath.Join(run.SourceDir, "cat.png"))
}

func TestPrepareRun_RejectsBadBatch(t *testing.T) {
	cfg := testConfig(t, "[archive]\npath = \"\"\n")
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	src := t.TempDir()
	writePNG(t, filepath.Join(src, "ok.png"))
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("plain text"), 0o644))

	runQuery = ""
	_, err = prepareRun(context.Background(), a, []string{src}, 0.3)
	require.Error(t, err)

	entries, _ := os.ReadDir(cfg.Paths.Resolve(cfg.Paths.InputDir))
	for _, e := range entries {
		assert.Equal(t, ".incoming", e.Name(), "no run directory left behind")
	}
}

func TestSourceLabel(t *testing.T) {
	assert.Equal(t, "system", sourceLabel(0, am.Source{}))
	assert.Equal(t, "user", sourceLabel(1, am.Source{}))
	assert.Equal(t, "project", sourceLabel(2, am.Source{}))
	assert.Equal(t, "--config", sourceLabel(2, am.Source{Explicit: true}))
}

func TestVersionCheck_DevBuildFails(t *testing.T) {
	VersionCmd.SetArgs([]string{"--check", ">= 0.1"})
	t.Cleanup(func() { VersionCmd.SetArgs(nil); VersionCmd.Flags().Set("check", "") })
	err := VersionCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not satisfy")
}
