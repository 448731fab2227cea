// Package metrics exposes Prometheus instruments for the scoring service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service instruments on a private registry, so several
// servers in one process (tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	// Assessments counts finished assessments by outcome: low_risk,
	// high_risk, rejected or error.
	Assessments *prometheus.CounterVec

	// Rejections counts validation rejections by rule id.
	Rejections *prometheus.CounterVec

	// Explanations counts explanation outcomes.
	Explanations *prometheus.CounterVec

	// StageLatency observes pipeline stage durations in seconds.
	StageLatency *prometheus.HistogramVec

	// Probability observes predicted default probabilities.
	Probability prometheus.Histogram
}

// New creates and registers every instrument.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_assessments_total",
			Help: "Total number of applicant assessments by outcome",
		}, []string{"outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_validation_rejections_total",
			Help: "Total number of applicants rejected by validation rule",
		}, []string{"rule"}),
		Explanations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_explanations_total",
			Help: "Total number of explanations by outcome",
		}, []string{"outcome"}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_stage_duration_seconds",
			Help:    "Latency of assessment pipeline stages",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		Probability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_default_probability",
			Help:    "Distribution of predicted default probabilities",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
	}

	m.registry.MustRegister(
		m.Assessments,
		m.Rejections,
		m.Explanations,
		m.StageLatency,
		m.Probability,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
