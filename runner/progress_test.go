package runner

import (
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleProgressIndicatorReports(t *testing.T) {
	var out streamBuffer
	logger := log.NewLogger(log.NewTerminalHandler(&out, false))
	fakeClock := fakeclock.NewFakeClock(time.Now())

	ui := NewConsoleProgressIndicator(logger, fakeClock, 10*time.Second)
	ui.Start(3)
	defer ui.Stop()

	ui.StartTest("add")
	ui.StartTest("loop_forever")
	ui.UpdateTest("add", types.TestStatusPass)

	fakeClock.WaitForWatcherAndIncrement(10 * time.Second)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Progress update")
	}, 5*time.Second, 10*time.Millisecond)

	logs := out.String()
	assert.Contains(t, logs, "completed=1")
	assert.Contains(t, logs, "total=3")
	assert.Contains(t, logs, "loop_forever")
}

func TestConsoleProgressIndicatorStopIsIdempotent(t *testing.T) {
	ui := NewConsoleProgressIndicator(testLogger(), fakeclock.NewFakeClock(time.Now()), 0)
	ui.Start(1)
	ui.Stop()
	assert.NotPanics(t, ui.Stop)
}

func TestFormatRunningTests(t *testing.T) {
	now := time.Now()
	running := map[string]time.Time{
		"a": now.Add(-5 * time.Second),
		"b": now.Add(-90 * time.Second),
		"c": now.Add(-30 * time.Second),
		"d": now.Add(-1 * time.Second),
	}

	assert.Equal(t, "", formatRunningTests(nil, now, 3))
	assert.Equal(t, "b (1m30s), c (30s), a (5s), +1 more", formatRunningTests(running, now, 3))
	assert.Equal(t, "b (1m30s), c (30s), a (5s), d (1s)", formatRunningTests(running, now, 10))
}
