// Package metrics holds the Prometheus collectors shared by the gateway and
// the workers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	transportAttempts *prometheus.CounterVec
	workerResults     *prometheus.CounterVec
	aggregateDuration prometheus.Histogram
	aggregateFailures prometheus.Counter
	fallbacks         *prometheus.CounterVec
	generations       *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transportAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realtymesh",
			Subsystem: "transport",
			Name:      "attempts_total",
			Help:      "Worker call attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		workerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realtymesh",
			Subsystem: "coordinator",
			Name:      "worker_results_total",
			Help:      "Normalized worker results by role and status.",
		}, []string{"role", "status"}),
		aggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "realtymesh",
			Subsystem: "coordinator",
			Name:      "aggregate_duration_seconds",
			Help:      "Wall time of one fan-out/fan-in aggregation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		aggregateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "realtymesh",
			Subsystem: "coordinator",
			Name:      "aggregate_failures_total",
			Help:      "Aggregations that hit the systemic failure boundary.",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realtymesh",
			Subsystem: "worker",
			Name:      "fallbacks_total",
			Help:      "Results synthesized by the local fallback heuristic.",
		}, []string{"role"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realtymesh",
			Subsystem: "worker",
			Name:      "generations_total",
			Help:      "Generation capability calls by role and outcome.",
		}, []string{"role", "outcome"}),
	}
	reg.MustRegister(
		m.transportAttempts,
		m.workerResults,
		m.aggregateDuration,
		m.aggregateFailures,
		m.fallbacks,
		m.generations,
	)
	return m
}

func (m *Metrics) TransportAttempt(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.transportAttempts.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) WorkerResult(role, status string) {
	if m == nil {
		return
	}
	m.workerResults.WithLabelValues(role, status).Inc()
}

func (m *Metrics) ObserveAggregate(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.aggregateDuration.Observe(d.Seconds())
	if failed {
		m.aggregateFailures.Inc()
	}
}

func (m *Metrics) Fallback(role string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(role).Inc()
}

func (m *Metrics) Generation(role, outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(role, outcome).Inc()
}
