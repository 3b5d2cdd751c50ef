package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	SummaryFileName = "summary.log"
	FailedDirName   = "failed"
)

// SummaryFileSink writes a per-run directory under baseDir containing a
// summary table and one log file per failing test case
type SummaryFileSink struct {
	baseDir string
	runID   string

	mu       sync.Mutex
	verdicts []*types.TestVerdict
}

var _ runner.ResultSink = (*SummaryFileSink)(nil)

// NewSummaryFileSink creates a sink writing to <baseDir>/testrun-<runID>
func NewSummaryFileSink(baseDir, runID string) (*SummaryFileSink, error) {
	s := &SummaryFileSink{baseDir: baseDir, runID: runID}
	if err := os.MkdirAll(filepath.Join(s.RunDir(), FailedDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", s.RunDir(), err)
	}
	return s, nil
}

// RunDir returns the directory this sink writes to
func (s *SummaryFileSink) RunDir() string {
	return filepath.Join(s.baseDir, "testrun-"+s.runID)
}

// Consume records the verdict and writes the failure log of failing cases
func (s *SummaryFileSink) Consume(v *types.TestVerdict) error {
	s.mu.Lock()
	s.verdicts = append(s.verdicts, v)
	s.mu.Unlock()

	if v.Passed() {
		return nil
	}
	// Program output may itself contain escape sequences
	content := stripansi.Strip(FormatVerdict(v, false))
	path := filepath.Join(s.RunDir(), FailedDirName, v.Case.ID+".log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write failure log: %w", err)
	}
	return nil
}

// Complete writes the summary table
func (s *SummaryFileSink) Complete(summary *runner.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := stripansi.Strip(renderSummaryTable(summary, s.verdicts))
	path := filepath.Join(s.RunDir(), SummaryFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

func renderSummaryTable(summary *runner.RunSummary, verdicts []*types.TestVerdict) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Conformance Results %s (%s)", summary.RunID, formatDuration(summary.Duration)))
	t.AppendHeader(table.Row{"Test", "Level", "Status", "Kind", "Exit", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", AutoMerge: true, WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, v := range verdicts {
		for _, o := range v.Outcomes {
			status := types.TestStatusPass
			kind := ""
			if !o.Passed {
				status = types.TestStatusFail
				kind = o.Failure.String()
			}
			t.AppendRow(table.Row{
				v.Case.ID,
				o.OptLevel,
				getResultString(status),
				kind,
				o.ExitCode,
				formatDuration(o.Duration),
			})
		}
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		fmt.Sprintf("%d/%d passed", summary.Passed, summary.Total),
		fmt.Sprintf("%d failed", summary.Failed),
		fmt.Sprintf("%d not run", summary.NotRun),
		formatDuration(summary.Duration),
	})

	if summary.Failed == 0 && summary.NotRun == 0 {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else if summary.Failed == 0 {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	return t.Render() + "\n"
}

func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "PASS"
	case types.TestStatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
