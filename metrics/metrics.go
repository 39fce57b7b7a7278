// Package metrics exposes the engine's Prometheus instrumentation: stage
// latency/outcome counters and parallel-deployment cohort gauges, per
// SPEC_FULL.md §3's domain-stack wiring for prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StageOutcome labels a completed stage invocation's terminal result.
type StageOutcome string

const (
	OutcomeSuccess  StageOutcome = "success"
	OutcomeFailure  StageOutcome = "failure"
	OutcomeAdvisory StageOutcome = "advisory_failure"
)

// Metrics bundles every collector the engine registers. Constructed once
// at startup and threaded into the orchestrator and scheduler via small
// functional-option style setters, the same way the teacher threads
// *slog.Logger through its components.
type Metrics struct {
	StageDuration   *prometheus.HistogramVec
	StageOutcomes   *prometheus.CounterVec
	WorkflowsActive prometheus.Gauge
	CohortSize      *prometheus.HistogramVec
	CohortsRunning  prometheus.Gauge
	DeploymentNonce *prometheus.CounterVec
}

// New builds and registers every collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer for the process-wide one.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contractforge",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one stage's Process call.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),

		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contractforge",
			Subsystem: "stage",
			Name:      "outcomes_total",
			Help:      "Count of stage invocations by terminal outcome.",
		}, []string{"stage", "outcome"}),

		WorkflowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "contractforge",
			Subsystem: "workflow",
			Name:      "active",
			Help:      "Number of workflows currently running on an orchestrator task.",
		}),

		CohortSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contractforge",
			Subsystem: "scheduler",
			Name:      "cohort_size",
			Help:      "Number of contracts scheduled in one parallel-deployment cohort.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}, []string{"network"}),

		CohortsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "contractforge",
			Subsystem: "scheduler",
			Name:      "cohorts_running",
			Help:      "Number of deployment cohorts currently executing across all batches.",
		}),

		DeploymentNonce: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contractforge",
			Subsystem: "deployment",
			Name:      "nonces_allocated_total",
			Help:      "Count of nonces handed out per network.",
		}, []string{"network"}),
	}

	reg.MustRegister(m.StageDuration, m.StageOutcomes, m.WorkflowsActive, m.CohortSize, m.CohortsRunning, m.DeploymentNonce)
	return m
}

// ObserveStage records a stage invocation's duration (in seconds) and
// terminal outcome.
func (m *Metrics) ObserveStage(stage string, seconds float64, outcome StageOutcome) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
	m.StageOutcomes.WithLabelValues(stage, string(outcome)).Inc()
}

// ObserveCohort records one scheduled cohort's size for a network.
func (m *Metrics) ObserveCohort(network string, size int) {
	if m == nil {
		return
	}
	m.CohortSize.WithLabelValues(network).Observe(float64(size))
}
