package runner

import "time"

// Harness execution constants
const (
	// DefaultTimeout bounds the emulated run of one (test case, level) pipeline
	DefaultTimeout = 300 * time.Second

	// DefaultConcurrency is the number of workers draining the test queue
	DefaultConcurrency = 22

	// MaxReasonableConcurrency triggers a warning, not a cap
	MaxReasonableConcurrency = 64

	DefaultOptLevel   = "-O2"
	DefaultToolchain  = "arm-linux-gnueabihf-gcc"
	DefaultMarch      = "armv7-a"
	DefaultRuntimeLib = "sysy"
	DefaultEmulator   = "qemu-arm-static"

	// DefaultRuntimeLibDir is resolved against the test directory
	DefaultRuntimeLibDir = "."

	// DefaultWaitDelay bounds how long we wait for output pipes after the
	// emulator exits or is killed. Orphaned grandchildren can hold them open.
	DefaultWaitDelay = 5 * time.Second

	// TimeoutMarkerFormat is appended to the diagnostic stream of a killed run
	TimeoutMarkerFormat = "timeout, killed by op-conform after %s"

	// InterruptedMarker is appended when the whole run is interrupted mid-test
	InterruptedMarker = "interrupted, killed by op-conform"

	// NoExitCode is reported when the emulator never produced an exit status
	NoExitCode = -1

	// signalExitBase is added to a terminating signal number, as shells do
	signalExitBase = 128
)
