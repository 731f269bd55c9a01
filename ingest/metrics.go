package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/paramstream/metric"
)

// layerMetrics holds Prometheus metrics for the ingestion layer
type layerMetrics struct {
	samples         *prometheus.CounterVec
	subscriptions   prometheus.Gauge
	writes          prometheus.Counter
	writeErrors     prometheus.Counter
	channelsDropped prometheus.Counter
}

func newLayerMetrics(registry *metric.MetricsRegistry) *layerMetrics {
	if registry == nil {
		return nil
	}

	m := &layerMetrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "ingest",
			Name:      "samples_total",
			Help:      "Total samples merged, by channel",
		}, []string{"channel"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paramstream",
			Subsystem: "ingest",
			Name:      "subscriptions",
			Help:      "Active subscriptions to the merged stream",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "ingest",
			Name:      "parameter_writes_total",
			Help:      "Total parameter writes queued on the primary channel",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "ingest",
			Name:      "parameter_write_errors_total",
			Help:      "Total parameter writes that could not be queued",
		}),
		channelsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "ingest",
			Name:      "channels_dropped_total",
			Help:      "Total channels that terminated after exhausting their retry budget",
		}),
	}

	registry.RegisterCounterVec("ingest", "samples", m.samples)
	registry.RegisterGauge("ingest", "subscriptions", m.subscriptions)
	registry.RegisterCounter("ingest", "parameter_writes", m.writes)
	registry.RegisterCounter("ingest", "parameter_write_errors", m.writeErrors)
	registry.RegisterCounter("ingest", "channels_dropped", m.channelsDropped)

	return m
}
