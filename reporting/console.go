// Package reporting renders verdicts and run summaries for humans.
package reporting

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/types"
)

// ConsoleReporter prints a line per passing test case and a diagnostic block
// per failing one as verdicts arrive, then the totals once at the end.
type ConsoleReporter struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

var _ runner.ResultSink = (*ConsoleReporter)(nil)

// NewConsoleReporter creates a reporter writing to out, or stdout when out is nil
func NewConsoleReporter(out io.Writer, color bool) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{out: out, color: color}
}

// Consume prints a verdict
func (c *ConsoleReporter) Consume(v *types.TestVerdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, FormatVerdict(v, c.color))
	return err
}

// Complete prints the totals
func (c *ConsoleReporter) Complete(summary *runner.RunSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, FormatTotals(summary.Passed, summary.Failed, summary.NotRun, c.color)); err != nil {
		return fmt.Errorf("failed to print totals: %w", err)
	}
	return nil
}
