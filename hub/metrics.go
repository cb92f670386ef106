package hub

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/manuelkasper/sotlas-api/metric"
)

// Metrics holds Prometheus metrics for the Hub component
type Metrics struct {
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	errorsTotal        prometheus.Counter
}

// newMetrics creates and registers Hub metrics. Returns nil when no registry
// is provided; all call sites tolerate a nil receiver.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub",
			Name:      "clients_connected",
			Help:      "Number of currently connected websocket clients",
		}),

		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),

		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections by reason",
		}, []string{"reason"}),

		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to websocket clients by type",
		}, []string{"type"}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to websocket clients",
		}),

		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub",
			Name:      "errors_total",
			Help:      "Total websocket send and decode errors",
		}),
	}

	registry.MustRegister(
		metrics.clientsConnected,
		metrics.connectionTotal,
		metrics.disconnectionTotal,
		metrics.messagesSent,
		metrics.bytesSent,
		metrics.errorsTotal,
	)

	return metrics
}

func (m *Metrics) recordConnect() {
	if m == nil {
		return
	}
	m.connectionTotal.Inc()
	m.clientsConnected.Inc()
}

func (m *Metrics) recordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.clientsConnected.Dec()
	m.disconnectionTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordSend(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *Metrics) recordError() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}
