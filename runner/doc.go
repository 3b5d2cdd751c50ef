// Package runner executes compiler conformance tests in parallel.
//
// The main components are:
//   - Pipeline: compiles, links and emulates one (test case, level) pair
//   - TestExecutor: turns pipeline results into pass/fail outcomes and verdicts
//   - ParallelExecutor: a fixed pool of workers draining a pre-filled queue
//   - Aggregator: owns the RunSummary and forwards verdicts to result sinks
//   - ProgressIndicator: periodic console progress while a run is in flight
//
// Test failures never surface as Go errors. Every failure mode of a pipeline
// is folded into the observed text of its ExecutionOutcome, so the text
// comparison stays the single source of truth for pass/fail.
package runner
