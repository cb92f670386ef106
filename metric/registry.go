// Package metric provides the Prometheus metrics registry shared by all
// components and the HTTP server exposing it. Components create their own
// Metrics structs against the registry; a nil registry disables metrics
// (nil-feature pattern).
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace is the prometheus namespace used by all sotlas-api metrics.
const Namespace = "sotlas"

// MetricsRegistry wraps a private Prometheus registry so tests can create
// isolated registries without global collector conflicts.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
}

// NewMetricsRegistry creates a new metrics registry with Go runtime and
// process collectors pre-registered.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
	}

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// MustRegister registers collectors, panicking on duplicates. Components call
// this once from their newMetrics constructors.
func (r *MetricsRegistry) MustRegister(cs ...prometheus.Collector) {
	r.prometheusRegistry.MustRegister(cs...)
}
