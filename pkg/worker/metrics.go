package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/paramstream/metric"
)

// Metrics holds Prometheus metrics shared by Pool and Lanes
type Metrics struct {
	queueDepth     prometheus.Gauge
	active         prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// newMetrics registers the worker metrics under prefix. It returns nil when
// registry is nil or prefix is empty.
func newMetrics(registry *metric.MetricsRegistry, serviceName, prefix string) *Metrics {
	if registry == nil || prefix == "" {
		return nil
	}

	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Items currently queued",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_active",
			Help: "Workers or lanes currently alive",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that failed processing",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items dropped before processing",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"status"}),
	}

	registry.RegisterGauge(serviceName, prefix+"_queue_depth", m.queueDepth)
	registry.RegisterGauge(serviceName, prefix+"_active", m.active)
	registry.RegisterCounter(serviceName, prefix+"_submitted_total", m.submitted)
	registry.RegisterCounter(serviceName, prefix+"_processed_total", m.processed)
	registry.RegisterCounter(serviceName, prefix+"_failed_total", m.failed)
	registry.RegisterCounter(serviceName, prefix+"_dropped_total", m.dropped)
	registry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", m.processingTime)

	return m
}

func (m *Metrics) observe(seconds float64, err error) {
	if m == nil {
		return
	}
	m.processed.Inc()
	status := "success"
	if err != nil {
		m.failed.Inc()
		status = "error"
	}
	m.processingTime.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) setActive(n int) {
	if m != nil {
		m.active.Set(float64(n))
	}
}

func (m *Metrics) depth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) submit(depth int) {
	if m != nil {
		m.submitted.Inc()
		m.queueDepth.Set(float64(depth))
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}
