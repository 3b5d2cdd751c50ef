package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime/debug"
	"slices"
	"strings"

	"code.cloudfoundry.org/clock"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"
)

// OutcomeRecorder receives every outcome as soon as it is produced
type OutcomeRecorder interface {
	RecordOutcome(outcome *types.ExecutionOutcome)
}

// TestExecutor runs a test case at every configured level and turns the
// pipeline results into pass/fail outcomes. It never returns an error for a
// failing test.
type TestExecutor struct {
	pipeline PipelineRunner
	levels   []string
	clock    clock.Clock
	log      log.Logger
	recorder OutcomeRecorder
}

// NewTestExecutor creates a new test executor
func NewTestExecutor(pipeline PipelineRunner, levels []string, clk clock.Clock, logger log.Logger, recorder OutcomeRecorder) (*TestExecutor, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}
	if len(levels) == 0 {
		return nil, errors.New("at least one optimization level is required")
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	if logger == nil {
		logger = log.Root()
	}
	return &TestExecutor{
		pipeline: pipeline,
		levels:   slices.Clone(levels),
		clock:    clk,
		log:      logger.New("component", "executor"),
		recorder: recorder,
	}, nil
}

// ExecuteCase runs every configured level of tc concurrently and returns the
// verdict once all outcomes exist. Outcomes follow the configured level order.
func (e *TestExecutor) ExecuteCase(ctx context.Context, tc types.TestCase) *types.TestVerdict {
	outcomes := make([]*types.ExecutionOutcome, len(e.levels))

	p := pool.New().WithMaxGoroutines(len(e.levels))
	for i, level := range e.levels {
		p.Go(func() {
			outcomes[i] = e.Execute(ctx, tc, level)
		})
	}
	p.Wait()

	return &types.TestVerdict{Case: tc, Outcomes: outcomes}
}

// Execute runs one (test case, level) pair. Any pipeline error or panic is
// folded into the observed text of the returned outcome.
func (e *TestExecutor) Execute(ctx context.Context, tc types.TestCase, level string) (outcome *types.ExecutionOutcome) {
	start := e.clock.Now()
	outcome = &types.ExecutionOutcome{
		TestID:   tc.ID,
		OptLevel: level,
		ExitCode: NoExitCode,
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("Panic while executing test", "test", tc.ID, "level", level, "panic", rec)
			outcome.Observed = strings.TrimSpace(fmt.Sprintf("runtime error: %v\n%s", rec, debug.Stack()))
			outcome.Passed = false
			outcome.Failure = types.FailureToolchain
		}
		outcome.Duration = e.clock.Since(start)
		if e.recorder != nil {
			e.recorder.RecordOutcome(outcome)
		}
	}()

	expected, readErr := readExpected(tc)
	outcome.Expected = strings.TrimSpace(expected)

	res, err := e.pipeline.Run(ctx, tc, level)
	var observed string
	if res != nil {
		observed = res.Observed
		outcome.Diagnostics = res.Diagnostics
		outcome.ExitCode = res.ExitCode
		outcome.TimedOut = res.TimedOut
		outcome.Failure = res.Failure
		outcome.AsmPath = res.Artifacts.AsmPath
		outcome.ExePath = res.Artifacts.ExePath
	}
	if err != nil {
		e.log.Warn("Pipeline could not run", "test", tc.ID, "level", level, "err", err)
		observed = joinNonEmpty(observed, err.Error())
		if outcome.Failure == types.FailureNone {
			outcome.Failure = types.FailureToolchain
		}
	}
	if readErr != nil {
		observed = joinNonEmpty(observed, readErr.Error())
	}

	outcome.Observed = strings.TrimSpace(observed)
	outcome.Passed = err == nil && readErr == nil && outcome.Expected == outcome.Observed
	if outcome.Passed {
		outcome.Failure = types.FailureNone
	} else if outcome.Failure == types.FailureNone {
		outcome.Failure = types.FailureMismatch
	}

	e.log.Debug("Test level finished", "test", tc.ID, "level", level, "passed", outcome.Passed, "kind", outcome.Failure)
	return outcome
}

// readExpected returns the expected output of tc. A missing file is an empty
// expectation; other read errors are returned to be folded into the outcome.
func readExpected(tc types.TestCase) (string, error) {
	if !tc.HasExpected() {
		return "", nil
	}
	data, err := os.ReadFile(tc.ExpectedPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read expected output: %w", err)
	}
	return string(data), nil
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
