// Package metrics exposes prometheus collectors for the run loop and the
// observation plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors jeeves records.
type Metrics struct {
	registry *prometheus.Registry

	// IterationsTotal counts supervisor iterations started.
	IterationsTotal prometheus.Counter
	// IterationDuration observes wall-clock seconds per iteration.
	IterationDuration prometheus.Histogram
	// TransitionsTotal counts phase transitions, labelled by target phase.
	TransitionsTotal *prometheus.CounterVec
	// RunsTotal counts completed runs, labelled by completion reason class.
	RunsTotal *prometheus.CounterVec
	// StreamConnections gauges currently connected SSE observers.
	StreamConnections prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jeeves",
			Name:      "iterations_total",
			Help:      "Supervisor iterations started.",
		}),
		IterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jeeves",
			Name:      "iteration_duration_seconds",
			Help:      "Wall-clock duration of supervisor iterations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jeeves",
			Name:      "transitions_total",
			Help:      "Phase transitions taken.",
		}, []string{"to"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jeeves",
			Name:      "runs_total",
			Help:      "Completed runs by outcome.",
		}, []string{"outcome"}),
		StreamConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jeeves",
			Name:      "stream_connections",
			Help:      "Currently connected event stream observers.",
		}),
	}
	reg.MustRegister(m.IterationsTotal, m.IterationDuration, m.TransitionsTotal, m.RunsTotal, m.StreamConnections)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
