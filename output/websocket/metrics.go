package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/paramstream/metric"
)

// serverMetrics holds Prometheus metrics for the broadcast server
type serverMetrics struct {
	eventsSent         prometheus.Counter
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec // by disconnect_reason
	broadcastDuration  prometheus.Histogram
	errorsTotal        *prometheus.CounterVec // by error_type
}

func newServerMetrics(registry *metric.MetricsRegistry) *serverMetrics {
	if registry == nil {
		return nil
	}

	m := &serverMetrics{
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "websocket",
			Name:      "events_sent_total",
			Help:      "Total events written to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paramstream",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paramstream",
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to broadcast one event to all clients",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket server errors",
		}, []string{"error_type"}),
	}

	_ = registry.RegisterCounter("websocket", "events_sent", m.eventsSent)
	_ = registry.RegisterCounter("websocket", "bytes_sent", m.bytesSent)
	_ = registry.RegisterGauge("websocket", "clients_connected", m.clientsConnected)
	_ = registry.RegisterCounter("websocket", "client_connections", m.connectionTotal)
	_ = registry.RegisterCounterVec("websocket", "client_disconnections", m.disconnectionTotal)
	_ = registry.RegisterHistogram("websocket", "broadcast_duration", m.broadcastDuration)
	_ = registry.RegisterCounterVec("websocket", "errors", m.errorsTotal)

	return m
}

func (m *serverMetrics) recordConnect(clients int) {
	if m != nil {
		m.connectionTotal.Inc()
		m.clientsConnected.Set(float64(clients))
	}
}

func (m *serverMetrics) recordDisconnect(reason string, clients int) {
	if m != nil {
		m.disconnectionTotal.WithLabelValues(reason).Inc()
		m.clientsConnected.Set(float64(clients))
	}
}

func (m *serverMetrics) recordSent(bytes int) {
	if m != nil {
		m.eventsSent.Inc()
		m.bytesSent.Add(float64(bytes))
	}
}

func (m *serverMetrics) recordBroadcast(seconds float64) {
	if m != nil {
		m.broadcastDuration.Observe(seconds)
	}
}

func (m *serverMetrics) recordError(errorType string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(errorType).Inc()
	}
}
