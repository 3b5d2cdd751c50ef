package metrics

import (
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOutcome(&types.ExecutionOutcome{OptLevel: "-O2", Passed: true, Duration: time.Second})
	m.RecordOutcome(&types.ExecutionOutcome{OptLevel: "-O2", Passed: false, Failure: types.FailureTimeout})
	m.RecordOutcome(&types.ExecutionOutcome{OptLevel: "-O0", Passed: false, Failure: types.FailureTimeout})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomesTotal.WithLabelValues("-O2", "pass", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomesTotal.WithLabelValues("-O2", "fail", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomesTotal.WithLabelValues("-O0", "fail", "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.outcomeDuration))
}

func TestRecordVerdictAndRun(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordVerdict(&types.TestVerdict{Outcomes: []*types.ExecutionOutcome{{Passed: true}}})
	m.RecordVerdict(&types.TestVerdict{Outcomes: []*types.ExecutionOutcome{{Passed: true}, {Passed: false}}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdictsTotal.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdictsTotal.WithLabelValues("fail")))

	m.RecordRun(&runner.RunSummary{Total: 5, Passed: 3, Failed: 1, NotRun: 1, Duration: 90 * time.Second})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.runResults.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runResults.WithLabelValues("fail")))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.runDuration))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.runTestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runNotRun))
}

func TestNewMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	require.Panics(t, func() { NewMetrics(reg) })
}
