package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingVerdict() *types.TestVerdict {
	return &types.TestVerdict{
		Case: types.TestCase{ID: "add", SourcePath: "/suite/add.sy"},
		Outcomes: []*types.ExecutionOutcome{
			{TestID: "add", OptLevel: "-O0", Passed: true, Duration: 120 * time.Millisecond},
			{TestID: "add", OptLevel: "-O2", Passed: true, Duration: 87 * time.Millisecond},
		},
	}
}

func failingVerdict() *types.TestVerdict {
	return &types.TestVerdict{
		Case: types.TestCase{ID: "loop_forever", SourcePath: "/suite/loop_forever.sy"},
		Outcomes: []*types.ExecutionOutcome{
			{TestID: "loop_forever", OptLevel: "-O0", Passed: true},
			{
				TestID:      "loop_forever",
				OptLevel:    "-O2",
				AsmPath:     "/tmp/op-conform-1/O2/loop_forever.s",
				Expected:    "0",
				Observed:    "137",
				Diagnostics: "timeout, killed by op-conform after 5m0s\n",
				ExitCode:    137,
				TimedOut:    true,
				Failure:     types.FailureTimeout,
				Duration:    300 * time.Second,
			},
		},
	}
}

func TestFormatVerdictPass(t *testing.T) {
	assert.Equal(t, " ✓ /suite/add.sy (120ms)\n", FormatVerdict(passingVerdict(), false))
}

func TestFormatVerdictFail(t *testing.T) {
	want := strings.Join([]string{
		" ✗ /suite/loop_forever.sy",
		"  -O2",
		"    asm file: /tmp/op-conform-1/O2/loop_forever.s",
		"    expect:",
		"      0",
		"    get:",
		"      137",
		"    stderr:",
		"      timeout, killed by op-conform after 5m0s",
		"",
	}, "\n")
	assert.Equal(t, want, FormatVerdict(failingVerdict(), false))
}

func TestFormatVerdictOmitsBlankStderr(t *testing.T) {
	v := &types.TestVerdict{
		Case: types.TestCase{ID: "empty", SourcePath: "/suite/empty.sy"},
		Outcomes: []*types.ExecutionOutcome{
			{OptLevel: "-O2", AsmPath: "/ws/O2/empty.s", Expected: "", Observed: "0", Diagnostics: "\n  \n"},
		},
	}
	out := FormatVerdict(v, false)
	assert.NotContains(t, out, "stderr:")
	assert.Contains(t, out, "    expect:\n      \n    get:\n      0\n")
}

func TestFormatVerdictColor(t *testing.T) {
	out := FormatVerdict(passingVerdict(), true)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "/suite/add.sy (120ms)")
}

func TestFormatTotals(t *testing.T) {
	assert.Equal(t, "\n    3 pass\n    1 fail\n", FormatTotals(3, 1, 0, false))
	assert.Equal(t, "\n    2 pass\n", FormatTotals(2, 0, 0, false))
	assert.Equal(t, "\n    1 fail\n    4 not run\n", FormatTotals(0, 1, 4, false))
	assert.Equal(t, "\n", FormatTotals(0, 0, 0, false))
}

func TestConsoleReporter(t *testing.T) {
	var out bytes.Buffer
	r := NewConsoleReporter(&out, false)

	require.NoError(t, r.Consume(passingVerdict()))
	require.NoError(t, r.Consume(failingVerdict()))
	require.NoError(t, r.Complete(&runner.RunSummary{Passed: 1, Failed: 1, Total: 2}))

	lines := strings.Split(out.String(), "\n")
	assert.Equal(t, " ✓ /suite/add.sy (120ms)", lines[0])
	assert.Equal(t, " ✗ /suite/loop_forever.sy", lines[1])
	assert.True(t, strings.HasSuffix(out.String(), "\n\n    1 pass\n    1 fail\n"))
}

func TestSummaryFileSink(t *testing.T) {
	base := t.TempDir()
	sink, err := NewSummaryFileSink(base, "run-42")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "testrun-run-42"), sink.RunDir())

	fail := failingVerdict()
	fail.Outcomes[1].Observed = "\x1b[31mred\x1b[0m"
	require.NoError(t, sink.Consume(passingVerdict()))
	require.NoError(t, sink.Consume(fail))

	assert.NoFileExists(t, filepath.Join(sink.RunDir(), FailedDirName, "add.log"))
	failureLog, err := os.ReadFile(filepath.Join(sink.RunDir(), FailedDirName, "loop_forever.log"))
	require.NoError(t, err)
	assert.Contains(t, string(failureLog), "asm file: /tmp/op-conform-1/O2/loop_forever.s")
	assert.Contains(t, string(failureLog), "      red\n")
	assert.NotContains(t, string(failureLog), "\x1b[")

	require.NoError(t, sink.Complete(&runner.RunSummary{
		RunID:    "run-42",
		Total:    2,
		Passed:   1,
		Failed:   1,
		Duration: 301 * time.Second,
	}))
	summary, err := os.ReadFile(filepath.Join(sink.RunDir(), SummaryFileName))
	require.NoError(t, err)
	content := string(summary)
	assert.NotContains(t, content, "\x1b[")
	assert.Contains(t, content, "run-42")
	assert.Contains(t, content, "loop_forever")
	assert.Contains(t, content, "FAIL")
	assert.Contains(t, content, "timeout")
	// Footers are upper-cased by the table style
	assert.Contains(t, content, "1/2 PASSED")
}

func TestHTMLSink(t *testing.T) {
	base := t.TempDir()
	sink, err := NewHTMLSink(base, "run-7")
	require.NoError(t, err)

	fail := failingVerdict()
	fail.Outcomes[1].Observed = "\x1b[31m<b>137</b>\x1b[0m"
	require.NoError(t, sink.Consume(passingVerdict()))
	require.NoError(t, sink.Consume(fail))
	require.NoError(t, sink.Complete(&runner.RunSummary{
		RunID:    "run-7",
		Total:    3,
		Passed:   1,
		Failed:   1,
		NotRun:   1,
		Duration: 2 * time.Second,
	}))

	page, err := os.ReadFile(filepath.Join(base, "testrun-run-7", HTMLFileName))
	require.NoError(t, err)
	content := string(page)
	assert.Contains(t, content, "Conformance Results run-7")
	assert.Contains(t, content, "/suite/add.sy")
	assert.Contains(t, content, `<td class="fail">FAIL</td>`)
	assert.Contains(t, content, "<td>timeout</td>")
	assert.Contains(t, content, "asm file: <code>/tmp/op-conform-1/O2/loop_forever.s</code>")
	assert.Contains(t, content, "1 not run")
	// Program output is escaped and stripped of terminal colours
	assert.Contains(t, content, "&lt;b&gt;137&lt;/b&gt;")
	assert.NotContains(t, content, "\x1b[")
	// The caller's verdict keeps its ANSI codes
	assert.Equal(t, "\x1b[31m<b>137</b>\x1b[0m", fail.Outcomes[1].Observed)
}

func TestHTMLSinkEmptyRun(t *testing.T) {
	base := t.TempDir()
	sink, err := NewHTMLSink(base, "empty")
	require.NoError(t, err)
	require.NoError(t, sink.Complete(&runner.RunSummary{RunID: "empty"}))
	assert.FileExists(t, filepath.Join(sink.RunDir(), HTMLFileName))
}
