package channel

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/paramstream/metric"
)

// channelMetrics holds Prometheus metrics for one channel
type channelMetrics struct {
	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
	samples         prometheus.Counter
	writes          prometheus.Counter
	writeErrors     prometheus.Counter
	connectFailures prometheus.Counter
	reconnects      prometheus.Counter
	exhausted       prometheus.Counter
	state           prometheus.Gauge
	sampleLag       prometheus.Histogram
}

// newChannelMetrics creates and registers channel metrics labelled with role
func newChannelMetrics(registry *metric.MetricsRegistry, role string) *channelMetrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"channel": role}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "paramstream",
			Subsystem:   "channel",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &channelMetrics{
		framesReceived:  counter("frames_received_total", "Total frames read from the socket"),
		framesDropped:   counter("frames_dropped_total", "Total frames that did not decode to a sample"),
		samples:         counter("samples_total", "Total samples decoded"),
		writes:          counter("writes_total", "Total queued payloads written to the socket"),
		writeErrors:     counter("write_errors_total", "Total socket write failures"),
		connectFailures: counter("connect_failures_total", "Total failed connect attempts"),
		reconnects:      counter("reconnects_total", "Total reconnects after a dropped connection"),
		exhausted:       counter("retry_exhausted_total", "Total times the retry budget ran out"),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "paramstream",
			Subsystem:   "channel",
			Name:        "state",
			Help:        "Connection state (0=disconnected, 1=connecting, 2=subscribed, 3=streaming, 4=terminated)",
			ConstLabels: labels,
		}),
		sampleLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "paramstream",
			Subsystem:   "channel",
			Name:        "sample_lag_seconds",
			Help:        "Delay between the source timestamp and local receipt",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: labels,
		}),
	}

	service := "channel_" + role
	registry.RegisterCounter(service, "frames_received", m.framesReceived)
	registry.RegisterCounter(service, "frames_dropped", m.framesDropped)
	registry.RegisterCounter(service, "samples", m.samples)
	registry.RegisterCounter(service, "writes", m.writes)
	registry.RegisterCounter(service, "write_errors", m.writeErrors)
	registry.RegisterCounter(service, "connect_failures", m.connectFailures)
	registry.RegisterCounter(service, "reconnects", m.reconnects)
	registry.RegisterCounter(service, "retry_exhausted", m.exhausted)
	registry.RegisterGauge(service, "state", m.state)
	registry.RegisterHistogram(service, "sample_lag", m.sampleLag)

	return m
}
