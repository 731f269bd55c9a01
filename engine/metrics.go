package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/paramstream/metric"
)

// engineMetrics holds Prometheus metrics for the aggregation engine.
type engineMetrics struct {
	samples          prometheus.Counter
	invalidSamples   prometheus.Counter
	evaluations      *prometheus.CounterVec // by definition
	skips            *prometheus.CounterVec // by definition
	emitted          *prometheus.CounterVec // by definition
	evaluationErrors *prometheus.CounterVec // by definition and stage
	writeBacks       prometheus.Counter
	sinkPublished    *prometheus.CounterVec // by sink
	sinkErrors       *prometheus.CounterVec // by sink
	sinkDropped      prometheus.Counter
	evalDuration     prometheus.Histogram
	definitions      prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &engineMetrics{
		samples:          counter("samples_total", "Total samples received from the source"),
		invalidSamples:   counter("samples_invalid_total", "Total samples discarded for a reserved invalid value"),
		evaluations:      counterVec("evaluations_total", "Total completed evaluations", "definition"),
		skips:            counterVec("skips_total", "Total rounds skipped by a callback", "definition"),
		emitted:          counterVec("events_emitted_total", "Total events emitted", "definition"),
		evaluationErrors: counterVec("evaluation_errors_total", "Total evaluation errors", "definition", "stage"),
		writeBacks:       counter("write_backs_total", "Total parameter write-backs"),
		sinkPublished:    counterVec("sink_published_total", "Total events published to sinks", "sink"),
		sinkErrors:       counterVec("sink_errors_total", "Total sink publish failures", "sink"),
		sinkDropped:      counter("sink_dropped_total", "Total sink jobs dropped because the sink queue was full"),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paramstream",
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating one round",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		definitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paramstream",
			Subsystem: "engine",
			Name:      "definitions",
			Help:      "Current number of definitions",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"samples":         m.samples,
		"samples_invalid": m.invalidSamples,
		"write_backs":     m.writeBacks,
		"sink_dropped":    m.sinkDropped,
	} {
		if err := registry.RegisterCounter("engine", name, c); err != nil {
			return nil, err
		}
	}
	for name, c := range map[string]*prometheus.CounterVec{
		"evaluations":       m.evaluations,
		"skips":             m.skips,
		"events_emitted":    m.emitted,
		"evaluation_errors": m.evaluationErrors,
		"sink_published":    m.sinkPublished,
		"sink_errors":       m.sinkErrors,
	} {
		if err := registry.RegisterCounterVec("engine", name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogram("engine", "evaluation_duration", m.evalDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "definitions", m.definitions); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) recordSample(valid bool) {
	if m == nil {
		return
	}
	m.samples.Inc()
	if !valid {
		m.invalidSamples.Inc()
	}
}

func (m *engineMetrics) recordEvaluation(definition string, seconds float64) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(definition).Inc()
	m.evalDuration.Observe(seconds)
}

func (m *engineMetrics) recordSkip(definition string) {
	if m != nil {
		m.skips.WithLabelValues(definition).Inc()
	}
}

func (m *engineMetrics) recordEmit(definition string) {
	if m != nil {
		m.emitted.WithLabelValues(definition).Inc()
	}
}

func (m *engineMetrics) recordError(definition string, stage Stage) {
	if m != nil {
		m.evaluationErrors.WithLabelValues(definition, string(stage)).Inc()
	}
}

func (m *engineMetrics) recordWriteBack() {
	if m != nil {
		m.writeBacks.Inc()
	}
}

func (m *engineMetrics) recordSinkPublish(sink string) {
	if m != nil {
		m.sinkPublished.WithLabelValues(sink).Inc()
	}
}

func (m *engineMetrics) recordSinkError(sink string) {
	if m != nil {
		m.sinkErrors.WithLabelValues(sink).Inc()
	}
}

func (m *engineMetrics) recordSinkDropped() {
	if m != nil {
		m.sinkDropped.Inc()
	}
}

func (m *engineMetrics) setDefinitions(n int) {
	if m != nil {
		m.definitions.Set(float64(n))
	}
}
