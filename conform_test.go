package conform

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-conform/reporting"
	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/workspace"
)

// Test sources are shell scripts: the fake compiler and linker copy them
// through to the executable and sh plays the emulator.
const copyThroughScript = `#!/bin/sh
in=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
    *.sy|*.s) in="$1" ;;
  esac
  shift
done
cp "$in" "$out"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

type suite struct {
	testDir      string
	workspaceDir string
}

func newSuite(t *testing.T, files map[string]string) suite {
	t.Helper()
	s := suite{testDir: t.TempDir(), workspaceDir: t.TempDir()}
	for name, content := range files {
		writeFile(t, filepath.Join(s.testDir, name), content)
	}
	return s
}

func (s suite) config(t *testing.T) *Config {
	t.Helper()
	script := filepath.Join(t.TempDir(), "copy.sh")
	writeFile(t, script, copyThroughScript)
	return &Config{
		TestDir:   s.testDir,
		SourceExt: ".sy",
		Toolchain: runner.Toolchain{
			Compiler:      []string{"sh", script},
			Linker:        []string{"sh", script},
			March:         runner.DefaultMarch,
			RuntimeLibDir: runner.DefaultRuntimeLibDir,
			RuntimeLib:    runner.DefaultRuntimeLib,
			Emulator:      []string{"sh"},
		},
		OptLevels:    []string{"-O0", "-O2"},
		Timeout:      30 * time.Second,
		Concurrency:  4,
		WorkspaceDir: s.workspaceDir,
		Log:          log.NewLogger(log.DiscardHandler()),
	}
}

func (s suite) workspaces(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(s.workspaceDir, workspace.DefaultPrefix+"*"))
	require.NoError(t, err)
	return matches
}

func newConform(t *testing.T, cfg *Config) (*conform, *bytes.Buffer, chan error) {
	t.Helper()
	shutdown := make(chan error, 1)
	c, err := New(context.Background(), cfg, "test", func(err error) { shutdown <- err })
	require.NoError(t, err)
	out := &bytes.Buffer{}
	c.out = out
	return c, out, shutdown
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), nil, "test", func(error) {})
	require.Error(t, err)

	s := newSuite(t, nil)
	cfg := s.config(t)
	cfg.Toolchain.Compiler = nil
	_, err = New(context.Background(), cfg, "test", func(error) {})
	require.ErrorContains(t, err, "compiler is required")

	cfg = s.config(t)
	cfg.TestDir = filepath.Join(s.testDir, "missing")
	_, err = New(context.Background(), cfg, "test", func(error) {})
	require.ErrorContains(t, err, "failed to create registry")
}

func TestStartAllPass(t *testing.T) {
	s := newSuite(t, map[string]string{
		"add.sy":  "read a\necho $((a + 1))\n",
		"add.in":  "41",
		"add.out": "42\n0\n",
		"ret.sy":  "exit 3\n",
		"ret.out": "3",
	})
	c, out, shutdown := newConform(t, s.config(t))

	require.NoError(t, c.Start(context.Background()))
	select {
	case err := <-shutdown:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not called")
	}

	summary := c.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 0, summary.Failed)

	assert.Contains(t, out.String(), " ✓ "+filepath.Join(s.testDir, "add.sy"))
	assert.Contains(t, out.String(), "\n    2 pass\n")
	assert.NotContains(t, out.String(), "fail")
	assert.Empty(t, s.workspaces(t), "workspace is removed when every test passes")

	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, c.Stopped())
}

func TestStartWithFailures(t *testing.T) {
	s := newSuite(t, map[string]string{
		"add.sy":   "echo 2\n",
		"add.out":  "2\n0",
		"bad.sy":   "echo 5\n",
		"bad.out":  "6\n0",
		"empty.sy": "",
	})
	cfg := s.config(t)
	cfg.LogDir = t.TempDir()
	c, out, _ := newConform(t, cfg)

	err := c.Start(context.Background())
	require.Error(t, err)
	require.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))

	summary := c.Summary()
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, summary.Total, summary.Passed+summary.Failed)

	assert.Contains(t, out.String(), " ✗ "+filepath.Join(s.testDir, "bad.sy"))
	assert.Contains(t, out.String(), "    get:\n      5\n      0\n")
	assert.Contains(t, out.String(), "\n    1 pass\n    2 fail\n")

	kept := s.workspaces(t)
	require.Len(t, kept, 1, "workspace is kept when a test fails")
	assert.FileExists(t, filepath.Join(kept[0], workspace.LevelDirName("-O2"), "bad.s"))

	runDir := filepath.Join(cfg.LogDir, "testrun-"+c.runID)
	assert.FileExists(t, filepath.Join(runDir, reporting.SummaryFileName))
	assert.FileExists(t, filepath.Join(runDir, reporting.HTMLFileName))
	assert.FileExists(t, filepath.Join(runDir, reporting.FailedDirName, "bad.log"))
	assert.FileExists(t, filepath.Join(runDir, reporting.FailedDirName, "empty.log"))

	status := c.status.Snapshot()
	assert.True(t, status.Done)
	assert.ElementsMatch(t, []string{"bad", "empty"}, status.FailedIDs)

	require.NoError(t, c.Stop(context.Background()))
}

func TestRunInterruptedBeforeStart(t *testing.T) {
	s := newSuite(t, map[string]string{
		"a.sy": "echo 1\n",
		"b.sy": "echo 2\n",
	})
	c, out, _ := newConform(t, s.config(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := c.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.NotRun)
	assert.Equal(t, 0, summary.Failed)
	assert.Contains(t, out.String(), "2 not run")
	assert.Empty(t, s.workspaces(t))
}

// brokenWriter panics on the first write, standing in for a sink bug
type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) {
	panic("console writer broke")
}

func TestRunPanicKeepsWorkspace(t *testing.T) {
	s := newSuite(t, map[string]string{
		"bad.sy":  "echo 5\n",
		"bad.out": "6\n0",
	})
	cfg := s.config(t)
	cfg.Concurrency = 1
	c, _, _ := newConform(t, cfg)
	c.out = brokenWriter{}

	assert.PanicsWithValue(t, "console writer broke", func() {
		_, _ = c.Run(context.Background())
	})

	kept := s.workspaces(t)
	require.Len(t, kept, 1, "workspace is kept when the run panics")
	assert.FileExists(t, filepath.Join(kept[0], workspace.LevelDirName("-O2"), "bad.s"))
}

func TestRunFilter(t *testing.T) {
	s := newSuite(t, map[string]string{
		"loop_a.sy": "exit 0\n",
		"other.sy":  "exit 1\n",
	})
	cfg := s.config(t)
	cfg.Filter = regexp.MustCompile("^loop_")
	cfg.OptLevels = []string{"-O2"}
	c, _, _ := newConform(t, cfg)

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	// Observed "0" against an absent expectation
	assert.Equal(t, 1, summary.Failed)
}

func TestHealthzLifecycle(t *testing.T) {
	s := newSuite(t, map[string]string{"a.sy": "echo hi\n", "a.out": "hi\n0"})
	cfg := s.config(t)
	cfg.HealthzEnabled = true
	cfg.HealthzAddr = "127.0.0.1"
	cfg.HealthzPort = 0
	c, _, shutdown := newConform(t, cfg)

	require.NoError(t, c.Start(context.Background()))
	<-shutdown
	require.NotNil(t, c.healthz.Addr())

	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, c.Stopped())
	// Second stop is a no-op
	require.NoError(t, c.Stop(context.Background()))
}
