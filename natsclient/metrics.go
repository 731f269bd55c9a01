package natsclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/paramstream/metric"
)

// clientMetrics holds Prometheus metrics for the NATS connection.
type clientMetrics struct {
	status        prometheus.Gauge
	reconnects    prometheus.Counter
	published     *prometheus.CounterVec // by mode: core or jetstream
	publishErrors *prometheus.CounterVec // by mode
}

func newClientMetrics(registry *metric.MetricsRegistry) *clientMetrics {
	if registry == nil {
		return nil
	}

	m := &clientMetrics{
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paramstream",
			Subsystem: "nats",
			Name:      "connection_status",
			Help:      "Connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=circuit open)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total reconnections to the NATS server",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "nats",
			Name:      "published_total",
			Help:      "Total messages published",
		}, []string{"mode"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "nats",
			Name:      "publish_errors_total",
			Help:      "Total failed publishes",
		}, []string{"mode"}),
	}

	_ = registry.RegisterGauge("nats", "connection_status", m.status)
	_ = registry.RegisterCounter("nats", "reconnects", m.reconnects)
	_ = registry.RegisterCounterVec("nats", "published", m.published)
	_ = registry.RegisterCounterVec("nats", "publish_errors", m.publishErrors)

	return m
}

func (m *clientMetrics) setStatus(status ConnectionStatus) {
	if m != nil {
		m.status.Set(float64(status))
	}
}

func (m *clientMetrics) recordReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *clientMetrics) recordPublish(mode string) {
	if m != nil {
		m.published.WithLabelValues(mode).Inc()
	}
}

func (m *clientMetrics) recordPublishError(mode string) {
	if m != nil {
		m.publishErrors.WithLabelValues(mode).Inc()
	}
}
