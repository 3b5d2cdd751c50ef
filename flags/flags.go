package flags

import (
	"fmt"
	"regexp"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-conform/registry"
	"github.com/ethereum-optimism/infra/op-conform/runner"
	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oppprof "github.com/ethereum-optimism/optimism/op-service/oppprof"
)

const EnvVarPrefix = "OP_CONFORM"

var (
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Directory holding the test sources with their .in and .out fixtures",
	}
	Compiler = &cli.StringFlag{
		Name:    "compiler",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMPILER"),
		Usage:   "Compiler under test, optionally followed by leading arguments (eg. 'build/syc')",
	}
	Toolchain = &cli.StringFlag{
		Name:    "toolchain",
		Value:   runner.DefaultToolchain,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TOOLCHAIN"),
		Usage:   "Cross assembler/linker driver",
	}
	March = &cli.StringFlag{
		Name:    "march",
		Value:   runner.DefaultMarch,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MARCH"),
		Usage:   "Target architecture passed to the toolchain as -march",
	}
	RuntimeLibDir = &cli.StringFlag{
		Name:    "runtime-lib-dir",
		Value:   runner.DefaultRuntimeLibDir,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNTIME_LIB_DIR"),
		Usage:   "Directory of the runtime library; relative paths resolve against the test directory",
	}
	RuntimeLib = &cli.StringFlag{
		Name:    "runtime-lib",
		Value:   runner.DefaultRuntimeLib,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNTIME_LIB"),
		Usage:   "Runtime library linked into every test program (passed as -l)",
	}
	Emulator = &cli.StringFlag{
		Name:    "emulator",
		Value:   runner.DefaultEmulator,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EMULATOR"),
		Usage:   "CPU emulator, optionally followed by leading arguments (eg. 'qemu-arm-static -L /usr/arm-linux-gnueabihf')",
	}
	OptLevels = &cli.StringSliceFlag{
		Name:    "opt-level",
		Value:   cli.NewStringSlice(runner.DefaultOptLevel),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OPT_LEVEL"),
		Usage:   "Optimization level to test; repeat the flag for several levels",
	}
	SourceExt = &cli.StringFlag{
		Name:    "source-ext",
		Value:   registry.DefaultSourceExt,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SOURCE_EXT"),
		Usage:   "File extension of test sources",
	}
	Run = &cli.StringFlag{
		Name:    "run",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN"),
		Usage:   "Only run test cases whose ID matches this regular expression",
		Action: func(ctx *cli.Context, v string) error {
			if _, err := regexp.Compile(v); err != nil {
				return fmt.Errorf("invalid --run expression: %w", err)
			}
			return nil
		},
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   runner.DefaultConcurrency,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of test cases run at the same time",
		Action: func(ctx *cli.Context, v int) error {
			if v <= 0 {
				return fmt.Errorf("concurrency must be positive, got %d", v)
			}
			return nil
		},
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   runner.DefaultTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Per (test case, level) timeout, measured from pipeline start and enforced on the emulated run",
		Action: func(ctx *cli.Context, v time.Duration) error {
			if v <= 0 {
				return fmt.Errorf("timeout must be positive, got %s", v)
			}
			return nil
		},
	}
	WorkspaceDir = &cli.StringFlag{
		Name:    "workspace-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKSPACE_DIR"),
		Usage:   "Parent of the per-run workspace directory (defaults to the system temp dir)",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory to write the run summary and failure logs to; disabled when empty",
	}
	NoColor = &cli.BoolFlag{
		Name:    "no-color",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NO_COLOR"),
		Usage:   "Disable coloured console output",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Periodically log progress while tests run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   runner.DefaultProgressInterval,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ENABLED"),
		Usage:   "Serve /healthz and /status while the run is in progress",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Healthz server listening address",
	}
	HealthzPort = &cli.IntFlag{
		Name:    "healthz.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_PORT"),
		Usage:   "Healthz server listening port",
	}
	Manifest = &cli.StringFlag{
		Name:    "manifest",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:   "Optional YAML suite manifest; explicit flags override its values",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
}

var optionalFlags = []cli.Flag{
	Compiler,
	Toolchain,
	March,
	RuntimeLibDir,
	RuntimeLib,
	Emulator,
	OptLevels,
	SourceExt,
	Run,
	Concurrency,
	Timeout,
	WorkspaceDir,
	LogDir,
	NoColor,
	ShowProgress,
	ProgressInterval,
	HealthzEnabled,
	HealthzAddr,
	HealthzPort,
	Manifest,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oppprof.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
