package conform

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-conform/flags"
	"github.com/ethereum-optimism/infra/op-conform/registry"
	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/workspace"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	TestDir          string
	SourceExt        string
	Filter           *regexp.Regexp // Optional filter on test case IDs
	Toolchain        runner.Toolchain
	OptLevels        []string
	Timeout          time.Duration // Per (test case, level), enforced on the emulated run
	Concurrency      int
	WorkspaceDir     string // Parent of the run workspace; empty means the system temp dir
	LogDir           string // Empty disables the summary file sink
	Color            bool
	ShowProgress     bool
	ProgressInterval time.Duration
	HealthzEnabled   bool
	HealthzAddr      string
	HealthzPort      int
	MetricsConfig    opmetrics.CLIConfig
	PprofConfig      oppprof.CLIConfig
	Log              log.Logger
}

// NewConfig creates a new Config from cli context. Values given explicitly on
// the command line override the manifest, which overrides flag defaults.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	manifest := &registry.Manifest{}
	if path := ctx.String(flags.Manifest.Name); path != "" {
		m, err := registry.LoadManifest(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load manifest '%s': %w", path, err)
		}
		manifest = m
	}

	testDir := ctx.String(flags.TestDir.Name)
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}
	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}

	var filter *regexp.Regexp
	if expr := ctx.String(flags.Run.Name); expr != "" {
		filter, err = regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid --run expression: %w", err)
		}
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir != "" {
		logDir, err = filepath.Abs(logDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
		}
	}

	workspaceDir := ctx.String(flags.WorkspaceDir.Name)
	if workspaceDir != "" {
		workspaceDir, err = filepath.Abs(workspaceDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for workspace directory '%s': %w", workspaceDir, err)
		}
	}

	cfg := &Config{
		TestDir:   absTestDir,
		SourceExt: stringValue(ctx, flags.SourceExt, manifest.SourceExt),
		Filter:    filter,
		Toolchain: runner.Toolchain{
			Compiler:      runner.SplitCommand(stringValue(ctx, flags.Compiler, manifest.Compiler)),
			Linker:        runner.SplitCommand(stringValue(ctx, flags.Toolchain, manifest.Toolchain)),
			March:         stringValue(ctx, flags.March, manifest.March),
			RuntimeLibDir: stringValue(ctx, flags.RuntimeLibDir, manifest.RuntimeLibDir),
			RuntimeLib:    stringValue(ctx, flags.RuntimeLib, manifest.RuntimeLib),
			Emulator:      runner.SplitCommand(stringValue(ctx, flags.Emulator, manifest.Emulator)),
		},
		OptLevels:        ctx.StringSlice(flags.OptLevels.Name),
		Timeout:          ctx.Duration(flags.Timeout.Name),
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		WorkspaceDir:     workspaceDir,
		LogDir:           logDir,
		Color:            !ctx.Bool(flags.NoColor.Name),
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		HealthzEnabled:   ctx.Bool(flags.HealthzEnabled.Name),
		HealthzAddr:      ctx.String(flags.HealthzAddr.Name),
		HealthzPort:      ctx.Int(flags.HealthzPort.Name),
		MetricsConfig:    opmetrics.ReadCLIConfig(ctx),
		PprofConfig:      oppprof.ReadCLIConfig(ctx),
		Log:              log,
	}
	if !ctx.IsSet(flags.OptLevels.Name) && len(manifest.OptLevels) > 0 {
		cfg.OptLevels = manifest.OptLevels
	}
	if !ctx.IsSet(flags.Timeout.Name) && manifest.Timeout > 0 {
		cfg.Timeout = manifest.Timeout
	}
	if !ctx.IsSet(flags.Concurrency.Name) && manifest.Concurrency > 0 {
		cfg.Concurrency = manifest.Concurrency
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringValue applies flag > manifest > default precedence for string flags
func stringValue(ctx *cli.Context, f *cli.StringFlag, manifestValue string) string {
	if ctx.IsSet(f.Name) || manifestValue == "" {
		return ctx.String(f.Name)
	}
	return manifestValue
}

// Check validates the configuration
func (c *Config) Check() error {
	if c.TestDir == "" {
		return errors.New("test directory is required")
	}
	if len(c.Toolchain.Compiler) == 0 {
		return errors.New("compiler is required (set --compiler or 'compiler' in the manifest)")
	}
	if len(c.Toolchain.Linker) == 0 {
		return errors.New("toolchain is required")
	}
	if len(c.Toolchain.Emulator) == 0 {
		return errors.New("emulator is required")
	}
	if len(c.OptLevels) == 0 {
		return errors.New("at least one optimization level is required")
	}
	if err := workspace.ValidateLevels(c.OptLevels); err != nil {
		return fmt.Errorf("invalid optimization levels: %w", err)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.ShowProgress && c.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive, got %s", c.ProgressInterval)
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if err := c.PprofConfig.Check(); err != nil {
		return fmt.Errorf("invalid pprof config: %w", err)
	}
	return nil
}
