// Package metric holds the Prometheus collectors for fetches and appearance
// evaluation. A nil *Metrics records nothing.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mantle"

// Metrics for the data router and the appearance pipeline.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec   // by type and status (ok/error/empty)
	fetchFeatures *prometheus.CounterVec   // by type
	fetchDuration *prometheus.HistogramVec // by type

	evalTotal    *prometheus.CounterVec // by status (ok/error)
	evalErrors   *prometheus.CounterVec // by kind
	evalDuration prometheus.Histogram
	evalFeatures prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "fetch_total",
			Help:      "Total number of data fetches",
		}, []string{"type", "status"}),

		fetchFeatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "features_total",
			Help:      "Total number of features produced by fetchers",
		}, []string{"type"}),

		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "fetch_duration_seconds",
			Help:      "Data fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),

		evalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appearance",
			Name:      "fields_total",
			Help:      "Total number of expression fields evaluated",
		}, []string{"status"}),

		evalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appearance",
			Name:      "errors_total",
			Help:      "Expression fields that resolved to undefined after an error",
		}, []string{"kind"}),

		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "appearance",
			Name:      "layer_duration_seconds",
			Help:      "Time to compute one layer's appearance",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		evalFeatures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appearance",
			Name:      "features_total",
			Help:      "Total number of computed features",
		}),
	}

	m.registry.MustRegister(
		m.fetchTotal, m.fetchFeatures, m.fetchDuration,
		m.evalTotal, m.evalErrors, m.evalDuration, m.evalFeatures,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFetch records one router fetch.
func (m *Metrics) RecordFetch(dataType string, features int, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case features == 0:
		status = "empty"
	}
	m.fetchTotal.WithLabelValues(dataType, status).Inc()
	m.fetchFeatures.WithLabelValues(dataType).Add(float64(features))
	m.fetchDuration.WithLabelValues(dataType).Observe(d.Seconds())
}

// RecordField records one expression field evaluation. kind is empty on
// success.
func (m *Metrics) RecordField(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		m.evalTotal.WithLabelValues("ok").Inc()
		return
	}
	m.evalTotal.WithLabelValues("error").Inc()
	m.evalErrors.WithLabelValues(kind).Inc()
}

// RecordLayer records one full layer evaluation.
func (m *Metrics) RecordLayer(features int, d time.Duration) {
	if m == nil {
		return
	}
	m.evalFeatures.Add(float64(features))
	m.evalDuration.Observe(d.Seconds())
}
