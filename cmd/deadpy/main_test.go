package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panbanda/deadpy/pkg/analyzer/liveness"
	"github.com/panbanda/deadpy/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"app.py":    "from util import used\n\n\ndef main():\n    used()\n\n\ndef stale():\n    pass\n",
		"util.py":   "def used():\n    pass\n",
		"broken.py": "def broken(:\n    pass\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}
	return root
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"deadpy", "--no-progress"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestGetPath(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"no args defaults to current dir", nil, ".", false},
		{"single path", []string{"/foo"}, "/foo", false},
		{"two paths", []string{"/foo", "/bar"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &cli.App{
				Action: func(c *cli.Context) error {
					got, err := getPath(c)
					if tt.wantErr {
						assert.Error(t, err)
						return nil
					}
					assert.NoError(t, err)
					assert.Equal(t, tt.want, got)
					return nil
				},
			}
			require.NoError(t, app.Run(append([]string{"test"}, tt.args...)))
		})
	}
}

func TestAnalyzeCommand_WritesReport(t *testing.T) {
	root := writeProject(t)
	out := filepath.Join(t.TempDir(), "report.txt")

	stdout, stderr, err := runApp(t, "--verbose", "analyze", "-o", out, root)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Analysis complete. Report saved to "+out)
	assert.Contains(t, stderr, "WARNING: skipped "+filepath.Join(root, "broken.py"))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== Unused functions ===\n")
	assert.Contains(t, string(content), "  - stale (line 8, column 0)\n")
	assert.Contains(t, string(content), "=== Skipped files ===\n")
}

func TestAnalyzeCommand_JSONToStdout(t *testing.T) {
	root := writeProject(t)

	stdout, _, err := runApp(t, "analyze", "-o", "-", "-f", "json", root)
	require.NoError(t, err)
	assert.NotContains(t, stdout, "Analysis complete")

	var report liveness.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 2, report.Summary.FilesAnalyzed)
	assert.Equal(t, 1, report.Summary.FilesSkipped)
	assert.Equal(t, 1, report.Summary.UnusedFunctions)
}

func TestAnalyzeCommand_Summary(t *testing.T) {
	root := writeProject(t)

	stdout, _, err := runApp(t, "analyze", "-o", "-", "--summary", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Summary")
	assert.Contains(t, stdout, "Functions")
	assert.Contains(t, strings.ToLower(stdout), "2 files")
}

func TestAnalyzeCommand_AbortOnParseError(t *testing.T) {
	root := writeProject(t)

	_, _, err := runApp(t, "analyze", "-o", "-", "--on-parse-error", "abort", root)
	require.Error(t, err)
	assert.ErrorIs(t, err, liveness.ErrParseFailure)
}

func TestAnalyzeCommand_InvalidFlag(t *testing.T) {
	root := writeProject(t)

	_, _, err := runApp(t, "analyze", "-o", "-", "--wildcard", "sometimes", root)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestAnalyzeCommand_Exclude(t *testing.T) {
	root := writeProject(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "legacy"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "legacy", "old.py"), []byte("def old():\n    pass\n"), 0644))

	stdout, _, err := runApp(t, "analyze", "-o", "-", "-f", "json", "--exclude", "legacy", root)
	require.NoError(t, err)

	var report liveness.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 2, report.Summary.FilesAnalyzed)
}

func TestCallgraphCommand(t *testing.T) {
	root := writeProject(t)

	stdout, _, err := runApp(t, "callgraph", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "digraph callgraph {")
	assert.Contains(t, stdout, `"app.py:main" -> "util.used";`)

	stdout, _, err = runApp(t, "callgraph", "-f", "mermaid", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "app_py_main --> util_used")

	stdout, _, err = runApp(t, "callgraph", "-f", "json", "--entry", "stale", root)
	require.NoError(t, err)
	var g struct {
		Unreachable []string `json:"unreachable"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &g))
	assert.Equal(t, []string{"app.py:main", "util.py:used"}, g.Unreachable)
}

func TestAnalyzeCommand_UnknownFormat(t *testing.T) {
	root := writeProject(t)

	_, _, err := runApp(t, "analyze", "-o", "-", "-f", "xml", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "xml"`)

	_, _, err = runApp(t, "callgraph", "-f", "svg", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "svg"`)
}

func TestCacheCommands(t *testing.T) {
	root := writeProject(t)
	cfgPath := filepath.Join(t.TempDir(), "deadpy.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[cache]\nenabled = true\n"), 0644))
	cacheDir := filepath.Join(root, ".deadpy", "cache")

	_, _, err := runApp(t, "--config", cfgPath, "analyze", "-o", "-", root)
	require.NoError(t, err)

	stdout, _, err := runApp(t, "--config", cfgPath, "cache", "stats", "-f", "json", root)
	require.NoError(t, err)
	var stats struct {
		Entries   int   `json:"entries"`
		TotalSize int64 `json:"total_size"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, 1, stats.Entries)
	assert.Positive(t, stats.TotalSize)

	stdout, _, err = runApp(t, "--config", cfgPath, "cache", "stats", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Report cache ("+cacheDir+")")

	stdout, _, err = runApp(t, "--config", cfgPath, "cache", "clear", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Cleared "+cacheDir)
	assert.NoDirExists(t, cacheDir)

	_, stderr, err := runApp(t, "cache", "stats", root)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Report cache is disabled")
	assert.NoDirExists(t, cacheDir)
}

func TestWatchProject_CancelsInFlightRun(t *testing.T) {
	root := t.TempDir()
	var stderr bytes.Buffer
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = &stderr

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := cli.NewContext(app, flag.NewFlagSet("deadpy", flag.ContinueOnError), nil)
	c.Context = parent

	started := make(chan struct{}, 1)
	finished := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		done <- watchProject(c, config.DefaultConfig(), root, func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			select {
			case finished <- ctx.Err():
			default:
			}
			return ctx.Err()
		})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("def main():\n    pass\n"), 0644))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("run was not called after a file change")
	}
	cancel()

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("in-flight run was not cancelled")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchProject did not return after cancellation")
	}
	assert.NotContains(t, stderr.String(), "context canceled")
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deadpy.toml")

	stdout, _, err := runApp(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Created "+path)

	_, _, err = runApp(t, "config", "init", path)
	assert.Error(t, err)

	_, _, err = runApp(t, "config", "init", "--force", path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	defaults := config.DefaultConfig()
	assert.Equal(t, defaults.Liveness, cfg.Liveness)
	assert.Equal(t, defaults.Imports, cfg.Imports)
	assert.Equal(t, defaults.Errors, cfg.Errors)
	assert.Equal(t, defaults.Scan.ExcludeDirs, cfg.Scan.ExcludeDirs)
	assert.Equal(t, defaults.Output, cfg.Output)

	stdout, _, err = runApp(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Configuration valid: "+path)

	stdout, _, err = runApp(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Configuration from: "+path)
	assert.Contains(t, stdout, "connect_method")
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deadpy.toml")
	require.NoError(t, os.WriteFile(path, []byte("[errors]\non_parse_error = \"ignore\"\n"), 0644))

	_, stderr, err := runApp(t, "--config", path, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, stderr, "Configuration validation failed:")
}
