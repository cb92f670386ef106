package sotawatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/manuelkasper/sotlas-api/metric"
)

// Metrics holds Prometheus metrics for the SOTAwatch poller
type Metrics struct {
	pollsTotal   *prometheus.CounterVec
	spotEvents   *prometheus.CounterVec
	cacheSize    prometheus.Gauge
	lastPollTime prometheus.Gauge
}

// newMetrics creates and registers poller metrics. Returns nil when no
// registry is provided; all call sites tolerate a nil receiver.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sotawatch",
			Name:      "polls_total",
			Help:      "Total polls by outcome",
		}, []string{"outcome"}),

		spotEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sotawatch",
			Name:      "spot_events_total",
			Help:      "Total spot events by kind",
		}, []string{"kind"}),

		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "sotawatch",
			Name:      "cache_size",
			Help:      "Number of spots held in the live cache",
		}),

		lastPollTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "sotawatch",
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last completed poll",
		}),
	}

	registry.MustRegister(
		metrics.pollsTotal,
		metrics.spotEvents,
		metrics.cacheSize,
		metrics.lastPollTime,
	)

	return metrics
}

func (m *Metrics) recordPoll(outcome string, cacheSize int, now float64) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(outcome).Inc()
	m.cacheSize.Set(float64(cacheSize))
	m.lastPollTime.Set(now)
}

func (m *Metrics) recordEvent(kind string) {
	if m == nil {
		return
	}
	m.spotEvents.WithLabelValues(kind).Inc()
}
