// Package types contains shared types used across the op-conform harness
package types

import (
	"strings"
	"time"
)

// TestStatus represents the possible states of a test case during a run
type TestStatus string

const (
	TestStatusPending TestStatus = "pending"
	TestStatusRunning TestStatus = "running"
	TestStatusPass    TestStatus = "pass"
	TestStatusFail    TestStatus = "fail"
)

// IsTerminal reports whether no further transition is allowed from this status
func (s TestStatus) IsTerminal() bool {
	return s == TestStatusPass || s == TestStatusFail
}

// CanTransitionTo reports whether moving from s to next follows
// Pending -> Running -> {Pass, Fail}.
func (s TestStatus) CanTransitionTo(next TestStatus) bool {
	switch s {
	case TestStatusPending:
		return next == TestStatusRunning
	case TestStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// FailureKind classifies why an outcome failed. It is informational only:
// the text comparison is the single source of pass/fail truth.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureCompilation FailureKind = "compilation"
	FailureToolchain   FailureKind = "toolchain"
	FailureTimeout     FailureKind = "timeout"
	FailureTermination FailureKind = "termination"
	FailureMismatch    FailureKind = "mismatch"
)

// String implements the Stringer interface for FailureKind
func (k FailureKind) String() string {
	if k == FailureNone {
		return "none"
	}
	return string(k)
}

// TestCase is one source fixture plus its optional stdin and expected-output fixtures
type TestCase struct {
	ID           string // Source file name without extension, unique within a run
	SourcePath   string // Absolute path to the source file
	StdinPath    string // Optional stdin fixture; empty when absent
	ExpectedPath string // Optional expected-output file; empty when absent
}

// HasStdin reports whether the test case has a stdin fixture
func (tc TestCase) HasStdin() bool {
	return tc.StdinPath != ""
}

// HasExpected reports whether the test case has an expected-output file
func (tc TestCase) HasExpected() bool {
	return tc.ExpectedPath != ""
}

// ExecutionOutcome is the full result of one pipeline run for a (TestCase, level) pair.
// It is produced exactly once and not modified afterwards.
type ExecutionOutcome struct {
	TestID      string
	OptLevel    string
	Passed      bool
	Expected    string        // Trimmed expected text
	Observed    string        // Trimmed observed text (captured stdout plus the trailing exit code)
	Diagnostics string        // Captured diagnostic (stderr) stream, including timeout markers
	Duration    time.Duration // Elapsed wall-clock time of the pipeline
	AsmPath     string        // Workspace path of the generated assembly
	ExePath     string        // Workspace path of the linked executable
	ExitCode    int           // Resolved emulator exit code; -1 when the emulator never ran
	TimedOut    bool
	Failure     FailureKind
}

// DiagnosticLines returns the diagnostic stream split into lines, or nil when
// the stream is blank.
func (o *ExecutionOutcome) DiagnosticLines() []string {
	if strings.TrimSpace(o.Diagnostics) == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(o.Diagnostics, "\n"), "\n")
}

// TestVerdict aggregates all outcomes for one TestCase
type TestVerdict struct {
	Case     TestCase
	Outcomes []*ExecutionOutcome // Ordered as the configured optimization levels
}

// Passed reports whether every outcome of the verdict passed
func (v *TestVerdict) Passed() bool {
	for _, o := range v.Outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Status returns the terminal status of the verdict
func (v *TestVerdict) Status() TestStatus {
	if v.Passed() {
		return TestStatusPass
	}
	return TestStatusFail
}

// Slowest returns the longest per-level elapsed time
func (v *TestVerdict) Slowest() time.Duration {
	var slowest time.Duration
	for _, o := range v.Outcomes {
		if o.Duration > slowest {
			slowest = o.Duration
		}
	}
	return slowest
}

// FailedOutcomes returns the failing outcomes in level order
func (v *TestVerdict) FailedOutcomes() []*ExecutionOutcome {
	var failed []*ExecutionOutcome
	for _, o := range v.Outcomes {
		if !o.Passed {
			failed = append(failed, o)
		}
	}
	return failed
}
