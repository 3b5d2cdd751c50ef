package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum-optimism/infra/op-conform/workspace"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Recorder receives outcomes, verdicts and the final summary, e.g. for metrics
type Recorder interface {
	OutcomeRecorder
	RunRecorder
}

// Config holds everything needed for one run
type Config struct {
	Log         log.Logger
	Clock       clock.Clock
	RunID       string
	Cases       []types.TestCase
	Toolchain   Toolchain
	OptLevels   []string
	Timeout     time.Duration
	WaitDelay   time.Duration
	Concurrency int
	Workspace   *workspace.Workspace
	Sinks       []ResultSink
	Recorder    Recorder          // Optional
	Progress    ProgressIndicator // Optional
}

// Runner runs every discovered test case once per configured level
type Runner struct {
	cfg      Config
	log      log.Logger
	parallel *ParallelExecutor
	tracer   trace.Tracer
}

// NewRunner wires the pipeline, executor and scheduler for one run
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.RunID == "" {
		return nil, errors.New("run id is required")
	}
	if len(cfg.OptLevels) == 0 {
		cfg.OptLevels = []string{DefaultOptLevel}
	}
	if err := workspace.ValidateLevels(cfg.OptLevels); err != nil {
		return nil, err
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	pipeline, err := NewPipeline(PipelineConfig{
		Toolchain: cfg.Toolchain,
		Workspace: cfg.Workspace,
		Timeout:   cfg.Timeout,
		WaitDelay: cfg.WaitDelay,
		Clock:     cfg.Clock,
		Log:       cfg.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var outcomes OutcomeRecorder
	if cfg.Recorder != nil {
		outcomes = cfg.Recorder
	}
	executor, err := NewTestExecutor(pipeline, cfg.OptLevels, cfg.Clock, cfg.Log, outcomes)
	if err != nil {
		return nil, fmt.Errorf("failed to create test executor: %w", err)
	}

	parallel, err := NewParallelExecutor(executor, cfg.Concurrency, cfg.Log, cfg.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to create parallel executor: %w", err)
	}

	return &Runner{
		cfg:      cfg,
		log:      cfg.Log,
		parallel: parallel,
		tracer:   otel.Tracer("conformance runner"),
	}, nil
}

// Run executes all test cases and returns the finalized summary. Failing
// tests are reported through the summary, not the error; the error only
// carries result sink failures.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	ctx, span := r.tracer.Start(ctx, "run",
		trace.WithAttributes(attribute.String("run_id", r.cfg.RunID), attribute.Int("tests", len(r.cfg.Cases))))
	defer span.End()

	var recorder RunRecorder
	if r.cfg.Recorder != nil {
		recorder = r.cfg.Recorder
	}
	agg := NewAggregator(r.cfg.RunID, len(r.cfg.Cases), r.cfg.Clock, r.log, recorder, r.cfg.Sinks...)

	r.log.Info("Running conformance tests",
		"runID", r.cfg.RunID,
		"tests", len(r.cfg.Cases),
		"levels", r.cfg.OptLevels,
		"concurrency", r.cfg.Concurrency,
		"timeout", r.cfg.Timeout,
		"workspace", r.cfg.Workspace.Root())

	stats := r.parallel.ExecuteTests(ctx, r.cfg.Cases, agg.Record)
	interrupted := ctx.Err() != nil
	if interrupted {
		r.log.Warn("Run interrupted", "completed", stats.Completed, "notRun", stats.NotRun)
	}

	summary, err := agg.Finalize(stats, interrupted)
	if err != nil {
		span.RecordError(err)
		return summary, fmt.Errorf("failed to complete result sinks: %w", err)
	}
	return summary, nil
}
