package conform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync/atomic"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum-optimism/infra/op-conform/exitcodes"
	"github.com/ethereum-optimism/infra/op-conform/metrics"
	"github.com/ethereum-optimism/infra/op-conform/registry"
	"github.com/ethereum-optimism/infra/op-conform/reporting"
	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/service"
	"github.com/ethereum-optimism/infra/op-conform/workspace"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
)

// conform implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &conform{}

// conform runs the discovered conformance suite once and exits.
type conform struct {
	config   *Config
	version  string
	runID    string
	clock    clock.Clock
	out      io.Writer
	registry *registry.Registry

	promRegistry  *prometheus.Registry
	metrics       *metrics.Metrics
	metricsServer *httputil.HTTPServer
	pprofServer   *oppprof.Service
	status        *service.StatusTracker
	healthz       *service.HealthzServer

	summary *runner.RunSummary
	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*conform, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	config.Log.Debug("Creating op-conform with config",
		"testDir", config.TestDir,
		"levels", config.OptLevels,
		"concurrency", config.Concurrency,
		"timeout", config.Timeout)

	reg, err := registry.NewRegistry(registry.Config{
		Log:       config.Log,
		TestDir:   config.TestDir,
		SourceExt: config.SourceExt,
		Filter:    config.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	runID := uuid.New().String()
	promRegistry := opmetrics.NewRegistry()

	c := &conform{
		config:           config,
		version:          version,
		runID:            runID,
		clock:            clock.NewClock(),
		out:              os.Stdout,
		registry:         reg,
		promRegistry:     promRegistry,
		metrics:          metrics.NewMetrics(promRegistry),
		status:           service.NewStatusTracker(runID, len(reg.GetTestCases())),
		shutdownCallback: shutdownCallback,
	}
	config.Log.Info("conform.New: created registry", "runID", runID, "tests", len(reg.GetTestCases()))
	return c, nil
}

// Start runs the suite to completion before returning.
// Start implements the cliapp.Lifecycle interface.
func (c *conform) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	c.running.Store(true)
	c.config.Log.Info("Starting op-conform", "version", c.version, "runID", c.runID)

	if err := c.startServers(); err != nil {
		return NewRuntimeError(err)
	}

	summary, err := c.Run(ctx)
	if err != nil {
		c.config.Log.Error("Runtime error running tests", "error", err)
		return err
	}

	if exitcodes.ForFailCount(summary.Failed) != exitcodes.Success {
		c.config.Log.Warn("Test run completed with failures, returning exit code 1",
			"failed", summary.Failed, "total", summary.Total)
		return NewTestFailureError(summary.Failed, summary.Total)
	}

	c.config.Log.Info("Tests completed, exiting")
	go func() {
		c.shutdownCallback(nil)
	}()
	return nil
}

// Run executes every discovered test case once per configured level inside a
// fresh workspace. The workspace is removed on return iff no test case failed;
// a panic leaves it in place for inspection.
func (c *conform) Run(ctx context.Context) (summary *runner.RunSummary, err error) {
	ws, err := workspace.New(c.config.WorkspaceDir, c.config.Log)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	failed := 0
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("Run aborted, keeping workspace", "path", ws.Root(), "error", r)
			panic(r)
		}
		if _, ferr := ws.Finalize(failed); ferr != nil {
			c.config.Log.Warn("Failed to clean up workspace", "path", ws.Root(), "error", ferr)
		}
	}()

	sinks := []runner.ResultSink{
		reporting.NewConsoleReporter(c.out, c.config.Color),
		c.status,
	}
	if c.config.LogDir != "" {
		fileSink, err := reporting.NewSummaryFileSink(c.config.LogDir, c.runID)
		if err != nil {
			return nil, NewRuntimeError(err)
		}
		htmlSink, err := reporting.NewHTMLSink(c.config.LogDir, c.runID)
		if err != nil {
			return nil, NewRuntimeError(err)
		}
		sinks = append(sinks, fileSink, htmlSink)
	}

	var progress runner.ProgressIndicator
	if c.config.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(c.config.Log, c.clock, c.config.ProgressInterval)
	}

	r, err := runner.NewRunner(runner.Config{
		Log:         c.config.Log,
		Clock:       c.clock,
		RunID:       c.runID,
		Cases:       c.registry.GetTestCases(),
		Toolchain:   c.config.Toolchain,
		OptLevels:   c.config.OptLevels,
		Timeout:     c.config.Timeout,
		WaitDelay:   runner.DefaultWaitDelay,
		Concurrency: c.config.Concurrency,
		Workspace:   ws,
		Sinks:       sinks,
		Recorder:    c.metrics,
		Progress:    progress,
	})
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create runner: %w", err))
	}

	summary, err = r.Run(ctx)
	if summary != nil {
		failed = summary.Failed
		c.summary = summary
	}
	if err != nil {
		return summary, NewRuntimeError(err)
	}

	c.config.Log.Info("Test run completed",
		"runID", summary.RunID,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"notRun", summary.NotRun,
		"duration", summary.Duration)
	return summary, nil
}

func (c *conform) startServers() error {
	if c.config.MetricsConfig.Enabled {
		metricsCfg := c.config.MetricsConfig
		c.config.Log.Info("Starting metrics server", "addr", metricsCfg.ListenAddr, "port", metricsCfg.ListenPort)
		metricsServer, err := opmetrics.StartServer(c.promRegistry, metricsCfg.ListenAddr, metricsCfg.ListenPort)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		c.config.Log.Info("Started metrics server", "endpoint", metricsServer.Addr())
		c.metricsServer = metricsServer
	}

	if c.config.PprofConfig.ListenEnabled {
		pprofCfg := c.config.PprofConfig
		c.pprofServer = oppprof.New(
			pprofCfg.ListenEnabled,
			pprofCfg.ListenAddr,
			pprofCfg.ListenPort,
			pprofCfg.ProfileType,
			pprofCfg.ProfileDir,
			pprofCfg.ProfileFilename,
		)
		c.config.Log.Info("Starting pprof server", "addr", pprofCfg.ListenAddr, "port", pprofCfg.ListenPort)
		if err := c.pprofServer.Start(); err != nil {
			return fmt.Errorf("failed to start pprof server: %w", err)
		}
	}

	if c.config.HealthzEnabled {
		c.healthz = service.NewHealthzServer(c.config.Log, c.status)
		addr := net.JoinHostPort(c.config.HealthzAddr, strconv.Itoa(c.config.HealthzPort))
		if err := c.healthz.Start(addr); err != nil {
			return fmt.Errorf("failed to start healthz server: %w", err)
		}
		c.config.Log.Info("Started healthz server", "addr", c.healthz.Addr())
	}
	return nil
}

// Stop stops the servers started alongside the run.
// Stop implements the cliapp.Lifecycle interface.
func (c *conform) Stop(ctx context.Context) error {
	c.config.Log.Info("Stopping op-conform")
	if !c.running.Swap(false) {
		c.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	var result error
	if c.healthz != nil {
		if err := c.healthz.Shutdown(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop healthz server: %w", err))
		}
	}
	if c.pprofServer != nil {
		if err := c.pprofServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop pprof server: %w", err))
		}
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	c.config.Log.Info("op-conform stopped")
	return result
}

// Stopped returns true if the op-conform service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (c *conform) Stopped() bool {
	return !c.running.Load()
}

// Summary returns the summary of the last run, or nil
func (c *conform) Summary() *runner.RunSummary {
	return c.summary
}
