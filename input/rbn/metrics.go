package rbn

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/manuelkasper/sotlas-api/metric"
)

// Metrics holds Prometheus metrics for the RBN input component
type Metrics struct {
	linesTotal      prometheus.Counter
	spotsTotal      prometheus.Counter
	parseErrors     prometheus.Counter
	reconnectsTotal prometheus.Counter
	connectionState prometheus.Gauge
	historySize     prometheus.Gauge
}

// newMetrics creates and registers RBN input metrics. Returns nil when no
// registry is provided; all call sites tolerate a nil receiver.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		linesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rbn",
			Name:      "lines_total",
			Help:      "Total lines received from the stream",
		}),

		spotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rbn",
			Name:      "spots_total",
			Help:      "Total spot lines successfully parsed",
		}),

		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rbn",
			Name:      "parse_errors_total",
			Help:      "Total spot lines that matched but failed to parse",
		}),

		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rbn",
			Name:      "reconnects_total",
			Help:      "Total reconnections to the stream",
		}),

		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "rbn",
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected 1=connecting 2=connected 3=reconnecting)",
		}),

		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "rbn",
			Name:      "history_size",
			Help:      "Number of spots held in the history cache",
		}),
	}

	registry.MustRegister(
		metrics.linesTotal,
		metrics.spotsTotal,
		metrics.parseErrors,
		metrics.reconnectsTotal,
		metrics.connectionState,
		metrics.historySize,
	)

	return metrics
}

func (m *Metrics) recordLine() {
	if m == nil {
		return
	}
	m.linesTotal.Inc()
}

func (m *Metrics) recordSpot(historySize int) {
	if m == nil {
		return
	}
	m.spotsTotal.Inc()
	m.historySize.Set(float64(historySize))
}

func (m *Metrics) recordParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) recordState(state ConnState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}
