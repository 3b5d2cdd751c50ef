package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum-optimism/infra/op-conform/workspace"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Toolchain describes the external programs driven by a pipeline. Every
// command is a program followed by optional leading arguments.
type Toolchain struct {
	Compiler      []string
	Linker        []string
	March         string
	RuntimeLibDir string // Relative paths resolve against the test case directory
	RuntimeLib    string
	Emulator      []string
}

// SplitCommand splits a command line on whitespace. Quoting is not supported.
func SplitCommand(s string) []string {
	return strings.Fields(s)
}

func (t Toolchain) validate() error {
	if len(t.Compiler) == 0 {
		return errors.New("compiler command is required")
	}
	if len(t.Linker) == 0 {
		return errors.New("toolchain command is required")
	}
	if len(t.Emulator) == 0 {
		return errors.New("emulator command is required")
	}
	return nil
}

// PipelineResult is the raw result of one pipeline run, before comparison
type PipelineResult struct {
	Observed    string // Untrimmed observed text
	Diagnostics string // Emulator stderr plus any harness markers
	ExitCode    int
	TimedOut    bool
	Failure     types.FailureKind
	Artifacts   workspace.Artifacts
}

// PipelineRunner runs one (test case, level) pair through compile, link and
// emulation. Step failures are folded into the result; an error is returned
// only when the pipeline could not be attempted.
type PipelineRunner interface {
	Run(ctx context.Context, tc types.TestCase, optLevel string) (*PipelineResult, error)
}

// PipelineConfig configures a Pipeline
type PipelineConfig struct {
	Toolchain Toolchain
	Workspace *workspace.Workspace
	Timeout   time.Duration // Non-positive disables the timeout
	WaitDelay time.Duration
	Clock     clock.Clock
	Log       log.Logger
}

// Pipeline implements PipelineRunner using external processes
type Pipeline struct {
	toolchain Toolchain
	ws        *workspace.Workspace
	timeout   time.Duration
	waitDelay time.Duration
	clock     clock.Clock
	log       log.Logger
	tracer    trace.Tracer
}

var _ PipelineRunner = (*Pipeline)(nil)

// NewPipeline creates a new pipeline
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.Toolchain.validate(); err != nil {
		return nil, err
	}
	if cfg.Workspace == nil {
		return nil, errors.New("workspace cannot be nil")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	return &Pipeline{
		toolchain: cfg.Toolchain,
		ws:        cfg.Workspace,
		timeout:   cfg.Timeout,
		waitDelay: cfg.WaitDelay,
		clock:     cfg.Clock,
		log:       cfg.Log.New("component", "pipeline"),
		tracer:    otel.Tracer("conformance pipeline"),
	}, nil
}

// Run executes compile, link and emulation for one (test case, level) pair.
// The timeout is measured from the start of Run and enforced on the emulated
// run only.
func (p *Pipeline) Run(ctx context.Context, tc types.TestCase, optLevel string) (*PipelineResult, error) {
	start := p.clock.Now()
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("pipeline %s", tc.ID),
		trace.WithAttributes(attribute.String("level", optLevel)))
	defer span.End()

	artifacts, err := p.ws.Paths(workspace.ArtifactKey{TestID: tc.ID, OptLevel: optLevel})
	if err != nil {
		return nil, err
	}
	res := &PipelineResult{ExitCode: NoExitCode, Artifacts: artifacts}

	stdin, err := readStdin(tc)
	if err != nil {
		return res, err
	}

	if out, ok := p.step(ctx, "compile", p.compileArgs(tc, optLevel, artifacts.AsmPath), ""); !ok {
		res.Observed = out
		res.Failure = types.FailureCompilation
		return res, nil
	}
	if out, ok := p.step(ctx, "link", p.linkArgs(artifacts), filepath.Dir(tc.SourcePath)); !ok {
		res.Observed = out
		res.Failure = types.FailureToolchain
		return res, nil
	}

	p.emulate(ctx, artifacts.ExePath, stdin, start, res)
	return res, nil
}

func (p *Pipeline) compileArgs(tc types.TestCase, optLevel, asmPath string) []string {
	args := slices.Clone(p.toolchain.Compiler)
	args = append(args, tc.SourcePath)
	args = append(args, strings.Fields(optLevel)...)
	return append(args, "-o", asmPath)
}

func (p *Pipeline) linkArgs(artifacts workspace.Artifacts) []string {
	args := slices.Clone(p.toolchain.Linker)
	if p.toolchain.March != "" {
		args = append(args, "-march="+p.toolchain.March)
	}
	args = append(args, artifacts.AsmPath)
	if p.toolchain.RuntimeLib != "" {
		libDir := p.toolchain.RuntimeLibDir
		if libDir == "" {
			libDir = DefaultRuntimeLibDir
		}
		args = append(args, "-L"+libDir, "-l"+p.toolchain.RuntimeLib)
	}
	return append(args, "-o", artifacts.ExePath, "-static", "-g")
}

// command builds a child process that inherits the environment, instrumented
// with the current trace context
func (p *Pipeline) command(ctx context.Context, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = telemetry.InstrumentEnvironment(ctx, os.Environ())
	cmd.WaitDelay = p.waitDelay
	return cmd
}

// step runs a build step to completion. On failure it returns the folded
// observed text and false.
func (p *Pipeline) step(ctx context.Context, stage string, argv []string, dir string) (string, bool) {
	ctx, span := p.tracer.Start(ctx, stage)
	defer span.End()

	var stdout, stderr bytes.Buffer
	cmd := p.command(ctx, argv)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		span.RecordError(err)
		p.log.Debug("Pipeline step failed", "stage", stage, "cmd", argv[0], "err", err)
		return foldStepFailure(stdout.String(), stderr.String(), err), false
	}
	return "", true
}

// foldStepFailure renders a failed step as observed text: its stdout and
// stderr, or the error itself when the step printed nothing.
func foldStepFailure(stdout, stderr string, err error) string {
	if strings.TrimSpace(stdout) == "" && strings.TrimSpace(stderr) == "" {
		return err.Error()
	}
	return stdout + "\n" + stderr
}

func (p *Pipeline) emulate(ctx context.Context, exePath string, stdin []byte, start time.Time, res *PipelineResult) {
	ctx, span := p.tracer.Start(ctx, "emulate")
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stdout, stderr streamBuffer
	argv := append(slices.Clone(p.toolchain.Emulator), exePath)
	cmd := p.command(runCtx, argv)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		res.Observed = err.Error()
		res.Failure = types.FailureToolchain
		return
	}

	var expired <-chan time.Time
	if p.timeout > 0 {
		timer := p.clock.NewTimer(p.timeout - p.clock.Since(start))
		defer timer.Stop()
		expired = timer.C()
	}

	var timedOut atomic.Bool
	exited := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-expired:
			timedOut.Store(true)
			stderr.appendLine(fmt.Sprintf(TimeoutMarkerFormat, p.timeout))
			cancel()
		case <-exited:
		}
	}()

	waitErr := cmd.Wait()
	close(exited)
	<-watcherDone

	interrupted := !timedOut.Load() && ctx.Err() != nil
	if interrupted {
		stderr.appendLine(InterruptedMarker)
	}

	if cmd.ProcessState == nil {
		res.Observed = foldStepFailure(stdout.String(), stderr.String(), waitErr)
		res.Diagnostics = stderr.String()
		res.Failure = types.FailureToolchain
		return
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.log.Debug("Emulator wait returned", "exe", exePath, "err", waitErr)
	}

	code, signaled := resolveExitCode(cmd.ProcessState)
	res.ExitCode = code
	res.TimedOut = timedOut.Load()
	res.Observed = strings.TrimSpace(stdout.String()) + "\n" + strconv.Itoa(code)
	res.Diagnostics = stderr.String()

	switch {
	case res.TimedOut:
		res.Failure = types.FailureTimeout
	case interrupted, signaled:
		res.Failure = types.FailureTermination
	}
	if res.Failure != types.FailureNone {
		span.SetAttributes(attribute.String("failure", res.Failure.String()))
	}
}

// resolveExitCode returns the exit code of a finished process, substituting
// 128+signal when the process was terminated by a signal
func resolveExitCode(state *os.ProcessState) (int, bool) {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return signalExitBase + int(status.Signal()), true
	}
	return state.ExitCode(), false
}

// readStdin returns the stdin fixture followed by a newline, or nil when the
// test case has no fixture
func readStdin(tc types.TestCase) ([]byte, error) {
	if !tc.HasStdin() {
		return nil, nil
	}
	data, err := os.ReadFile(tc.StdinPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin fixture: %w", err)
	}
	return append(data, '\n'), nil
}
