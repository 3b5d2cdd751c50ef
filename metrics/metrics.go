package metrics

import (
	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "conform"
)

var Debug = false

// Metrics records harness results into a prometheus registry
type Metrics struct {
	outcomesTotal   *prometheus.CounterVec
	outcomeDuration *prometheus.HistogramVec
	verdictsTotal   *prometheus.CounterVec
	runResults      *prometheus.GaugeVec
	runDuration     prometheus.Gauge
	runTestsTotal   prometheus.Gauge
	runNotRun       prometheus.Gauge
}

var _ runner.Recorder = (*Metrics)(nil)

// NewMetrics registers the harness metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		outcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "outcomes_total",
			Help:      "Count of (test case, level) outcomes",
		}, []string{
			"level",
			"result",
			"kind",
		}),
		outcomeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "outcome_duration_seconds",
			Help:      "Wall-clock time of one pipeline run",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{
			"level",
		}),
		verdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "verdicts_total",
			Help:      "Count of test case verdicts",
		}, []string{
			"result",
		}),
		runResults: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_results",
			Help:      "Passed and failed test cases of the last run",
		}, []string{
			"result",
		}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run",
		}),
		runTestsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_tests_total",
			Help:      "Discovered test cases of the last run",
		}),
		runNotRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_not_run",
			Help:      "Test cases never started because the last run was interrupted",
		}),
	}
}

func resultLabel(passed bool) string {
	if passed {
		return string(types.TestStatusPass)
	}
	return string(types.TestStatusFail)
}

// RecordOutcome counts one pipeline outcome
func (m *Metrics) RecordOutcome(o *types.ExecutionOutcome) {
	result := resultLabel(o.Passed)
	if Debug {
		log.Debug("metric inc",
			"m", "outcomes_total",
			"test", o.TestID,
			"level", o.OptLevel,
			"result", result,
			"kind", o.Failure.String())
	}
	m.outcomesTotal.WithLabelValues(o.OptLevel, result, o.Failure.String()).Inc()
	m.outcomeDuration.WithLabelValues(o.OptLevel).Observe(o.Duration.Seconds())
}

// RecordVerdict counts one test case verdict
func (m *Metrics) RecordVerdict(v *types.TestVerdict) {
	m.verdictsTotal.WithLabelValues(resultLabel(v.Passed())).Inc()
}

// RecordRun publishes the totals of a finished run
func (m *Metrics) RecordRun(s *runner.RunSummary) {
	m.runResults.WithLabelValues(string(types.TestStatusPass)).Set(float64(s.Passed))
	m.runResults.WithLabelValues(string(types.TestStatusFail)).Set(float64(s.Failed))
	m.runDuration.Set(s.Duration.Seconds())
	m.runTestsTotal.Set(float64(s.Total))
	m.runNotRun.Set(float64(s.NotRun))
}
