package runner

import (
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum/go-ethereum/log"
)

// RunSummary holds the counters and verdicts of one run
type RunSummary struct {
	RunID       string
	Total       int // Discovered test cases
	Passed      int
	Failed      int
	NotRun      int
	Verdicts    []*types.TestVerdict // In completion order
	Start       time.Time
	Duration    time.Duration
	Interrupted bool
}

// Completed returns the number of verdicts received
func (s *RunSummary) Completed() int {
	return s.Passed + s.Failed
}

// ResultSink receives verdicts as they complete and the summary once at the end
type ResultSink interface {
	Consume(verdict *types.TestVerdict) error
	Complete(summary *RunSummary) error
}

// RunRecorder receives run-level results
type RunRecorder interface {
	RecordVerdict(verdict *types.TestVerdict)
	RecordRun(summary *RunSummary)
}

// Aggregator owns the RunSummary. Verdicts are recorded from a single
// goroutine; reads may come from anywhere.
type Aggregator struct {
	log      log.Logger
	clock    clock.Clock
	sinks    []ResultSink
	recorder RunRecorder

	mu        sync.RWMutex
	summary   RunSummary
	finalOnce sync.Once
	final     *RunSummary
}

// NewAggregator creates an aggregator for a run of total test cases
func NewAggregator(runID string, total int, clk clock.Clock, logger log.Logger, recorder RunRecorder, sinks ...ResultSink) *Aggregator {
	if clk == nil {
		clk = clock.NewClock()
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Aggregator{
		log:      logger.New("component", "aggregator"),
		clock:    clk,
		sinks:    sinks,
		recorder: recorder,
		summary: RunSummary{
			RunID: runID,
			Total: total,
			Start: clk.Now(),
		},
	}
}

// Record counts a verdict and forwards it to every sink. Sink errors are
// logged; they never change the verdict.
func (a *Aggregator) Record(verdict *types.TestVerdict) {
	a.mu.Lock()
	if verdict.Passed() {
		a.summary.Passed++
	} else {
		a.summary.Failed++
	}
	a.summary.Verdicts = append(a.summary.Verdicts, verdict)
	a.mu.Unlock()

	for _, sink := range a.sinks {
		if err := sink.Consume(verdict); err != nil {
			a.log.Error("Result sink failed to consume verdict", "test", verdict.Case.ID, "err", err)
		}
	}
	if a.recorder != nil {
		a.recorder.RecordVerdict(verdict)
	}
}

// Counts returns the current pass and fail counts
func (a *Aggregator) Counts() (passed, failed int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summary.Passed, a.summary.Failed
}

// Finalize freezes the summary and completes every sink. Only the first call
// does any work; later calls return the same summary.
func (a *Aggregator) Finalize(stats ExecutionStats, interrupted bool) (*RunSummary, error) {
	var errs []error
	a.finalOnce.Do(func() {
		a.mu.Lock()
		a.summary.Duration = a.clock.Since(a.summary.Start)
		a.summary.Interrupted = interrupted
		a.summary.NotRun = stats.NotRun
		final := a.summary
		final.Verdicts = append([]*types.TestVerdict(nil), a.summary.Verdicts...)
		a.final = &final
		a.mu.Unlock()

		for _, sink := range a.sinks {
			if err := sink.Complete(a.final); err != nil {
				errs = append(errs, err)
			}
		}
		if a.recorder != nil {
			a.recorder.RecordRun(a.final)
		}

		a.log.Info("Run finished",
			"runID", a.final.RunID,
			"passed", a.final.Passed,
			"failed", a.final.Failed,
			"notRun", a.final.NotRun,
			"interrupted", interrupted,
			"duration", a.final.Duration)
	})
	return a.final, errors.Join(errs...)
}
