package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum/go-ethereum/log"
)

// CaseExecutor runs every level of one test case and returns its verdict
type CaseExecutor interface {
	ExecuteCase(ctx context.Context, tc types.TestCase) *types.TestVerdict
}

var _ CaseExecutor = (*TestExecutor)(nil)

// taskQueue is a pre-filled, closed channel of test cases. A receive is the
// claim, so no case can be handed to two workers.
type taskQueue struct {
	ch chan types.TestCase
}

func newTaskQueue(cases []types.TestCase) *taskQueue {
	ch := make(chan types.TestCase, len(cases))
	for _, tc := range cases {
		ch <- tc
	}
	close(ch)
	return &taskQueue{ch: ch}
}

// claim returns the next unclaimed case. It reports false once the queue is
// drained or the context is done.
func (q *taskQueue) claim(ctx context.Context) (types.TestCase, bool) {
	if ctx.Err() != nil {
		return types.TestCase{}, false
	}
	select {
	case tc, ok := <-q.ch:
		return tc, ok
	case <-ctx.Done():
		return types.TestCase{}, false
	}
}

// claimTracker enforces Pending -> Running -> {Pass, Fail} for every case
type claimTracker struct {
	mu     sync.Mutex
	states map[string]types.TestStatus
}

func newClaimTracker(cases []types.TestCase) *claimTracker {
	states := make(map[string]types.TestStatus, len(cases))
	for _, tc := range cases {
		states[tc.ID] = types.TestStatusPending
	}
	return &claimTracker{states: states}
}

func (t *claimTracker) transition(id string, next types.TestStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.states[id]
	if !ok {
		return fmt.Errorf("unknown test case %q", id)
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("test case %q cannot move from %s to %s", id, current, next)
	}
	t.states[id] = next
	return nil
}

func (t *claimTracker) count(status types.TestStatus) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.states {
		if s == status {
			n++
		}
	}
	return n
}

// ExecutionStats describes how a scheduled run ended
type ExecutionStats struct {
	Scheduled int
	Completed int
	NotRun    int // Cases never claimed because the run was interrupted
}

// ParallelExecutor runs test cases on a fixed pool of workers
type ParallelExecutor struct {
	executor    CaseExecutor
	concurrency int
	log         log.Logger
	ui          ProgressIndicator
}

// NewParallelExecutor creates a new parallel test executor
func NewParallelExecutor(executor CaseExecutor, concurrency int, logger log.Logger, ui ProgressIndicator) (*ParallelExecutor, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}
	if logger == nil {
		logger = log.Root()
	}
	if concurrency > MaxReasonableConcurrency {
		logger.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	if ui == nil {
		ui = NewNoOpProgressIndicator()
	}
	return &ParallelExecutor{
		executor:    executor,
		concurrency: concurrency,
		log:         logger.New("component", "parallel-executor"),
		ui:          ui,
	}, nil
}

// ExecuteTests runs every case exactly once and hands each verdict to sink
// from the calling goroutine. Once ctx is done workers stop claiming; cases
// already running finish (their processes are killed) and are still
// delivered.
func (pe *ParallelExecutor) ExecuteTests(ctx context.Context, cases []types.TestCase, sink func(*types.TestVerdict)) ExecutionStats {
	start := time.Now()
	stats := ExecutionStats{Scheduled: len(cases)}
	if len(cases) == 0 {
		pe.log.Debug("No test cases to execute")
		return stats
	}

	pe.ui.Start(len(cases))
	defer pe.ui.Stop()

	pe.log.Info("Starting parallel test execution", "totalTests", len(cases), "concurrency", pe.concurrency)

	queue := newTaskQueue(cases)
	tracker := newClaimTracker(cases)
	// Sized so a worker never blocks handing over a verdict
	results := make(chan *types.TestVerdict, len(cases))

	workers := min(pe.concurrency, len(cases))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go pe.worker(ctx, i, &wg, queue, tracker, results)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for verdict := range results {
		stats.Completed++
		sink(verdict)
	}

	stats.NotRun = tracker.count(types.TestStatusPending)
	pe.log.Info("Parallel test execution finished",
		"duration", time.Since(start),
		"completed", stats.Completed,
		"notRun", stats.NotRun)
	return stats
}

func (pe *ParallelExecutor) worker(ctx context.Context, id int, wg *sync.WaitGroup, queue *taskQueue, tracker *claimTracker, results chan<- *types.TestVerdict) {
	defer wg.Done()

	workerID := fmt.Sprintf("worker-%d", id)
	pe.log.Debug("Worker starting", "workerID", workerID)
	defer pe.log.Debug("Worker exiting", "workerID", workerID)

	for {
		tc, ok := queue.claim(ctx)
		if !ok {
			return
		}
		if err := tracker.transition(tc.ID, types.TestStatusRunning); err != nil {
			pe.log.Error("Refusing to run test case", "workerID", workerID, "test", tc.ID, "err", err)
			continue
		}

		pe.log.Debug("Worker processing test", "workerID", workerID, "test", tc.ID)
		pe.ui.StartTest(tc.ID)

		verdict := pe.executor.ExecuteCase(ctx, tc)

		if err := tracker.transition(tc.ID, verdict.Status()); err != nil {
			pe.log.Error("Invalid test case transition", "workerID", workerID, "test", tc.ID, "err", err)
		}
		pe.ui.UpdateTest(tc.ID, verdict.Status())
		results <- verdict
	}
}
