package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultProgressInterval is used when no interval is configured
const DefaultProgressInterval = 30 * time.Second

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	Start(totalTests int)
	StartTest(testName string)
	UpdateTest(testName string, status types.TestStatus)
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) Start(totalTests int)                                {}
func (n *noOpProgressIndicator) StartTest(testName string)                           {}
func (n *noOpProgressIndicator) UpdateTest(testName string, status types.TestStatus) {}
func (n *noOpProgressIndicator) Stop()                                               {}

// consoleProgressIndicator periodically logs how far a run has got
type consoleProgressIndicator struct {
	logger   log.Logger
	clock    clock.Clock
	interval time.Duration

	mu             sync.RWMutex
	ticker         clock.Ticker
	stopCh         chan struct{}
	stopOnce       sync.Once
	started        bool
	completedTests int
	failedTests    int
	totalTests     int
	startTime      time.Time

	// test name -> start time
	runningTests map[string]time.Time
}

// NewConsoleProgressIndicator creates a progress indicator that logs updates
// every updateInterval until Stop is called
func NewConsoleProgressIndicator(logger log.Logger, clk clock.Clock, updateInterval time.Duration) ProgressIndicator {
	if updateInterval <= 0 {
		updateInterval = DefaultProgressInterval
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	return &consoleProgressIndicator{
		logger:       logger,
		clock:        clk,
		interval:     updateInterval,
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
	}
}

func (c *consoleProgressIndicator) Start(totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true
	c.totalTests = totalTests
	c.startTime = c.clock.Now()
	c.ticker = c.clock.NewTicker(c.interval)

	c.logger.Info("Starting test run", "totalTests", totalTests)
	go c.progressReporter(c.ticker)
}

// StartTest tracks when a test starts running
func (c *consoleProgressIndicator) StartTest(testName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[testName] = c.clock.Now()
	c.logger.Debug("Test started", "test", testName, "runningTests", len(c.runningTests))
}

func (c *consoleProgressIndicator) UpdateTest(testName string, status types.TestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, testName)
	c.completedTests++
	if status == types.TestStatusFail {
		c.failedTests++
	}

	c.logger.Debug("Test completed", "test", testName, "status", status, "completed", c.completedTests, "total", c.totalTests)
}

// Stop stops the progress indicator
func (c *consoleProgressIndicator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		if c.ticker != nil {
			c.ticker.Stop()
		}
		c.mu.Unlock()
		close(c.stopCh)
	})
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *consoleProgressIndicator) progressReporter(ticker clock.Ticker) {
	for {
		select {
		case <-ticker.C():
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"completed", c.completedTests,
		"total", c.totalTests,
		"failed", c.failedTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"elapsed", c.clock.Since(c.startTime).Truncate(time.Second),
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, c.clock.Now(), 3))
}

// formatRunningTests lists up to maxShow running tests, longest first
func formatRunningTests(runningTests map[string]time.Time, now time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	running := make([]runningTest, 0, len(runningTests))
	for testName, startTime := range runningTests {
		running = append(running, runningTest{
			name:     testName,
			duration: now.Sub(startTime),
		})
	}

	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}

	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}

	return strings.Join(runningStrs, ", ")
}
