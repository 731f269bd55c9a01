package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/paramstream/errors"
)

// MetricsRegistrar is the registration surface handed to components
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error
	RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(serviceName, metricName string, histogramVec *prometheus.HistogramVec) error
	Unregister(serviceName, metricName string) bool
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

// metricKey scopes a metric name to the component that registered it
type metricKey struct {
	service string
	name    string
}

func (k metricKey) String() string {
	return k.service + "." + k.name
}

// MetricsRegistry owns the Prometheus registry for one process. The core
// metrics and the Go runtime collectors are registered on creation.
type MetricsRegistry struct {
	prom    *prometheus.Registry
	Metrics *Metrics

	mu         sync.Mutex
	collectors map[metricKey]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the core and runtime metrics
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:       prometheus.NewRegistry(),
		Metrics:    NewMetrics(),
		collectors: make(map[metricKey]prometheus.Collector),
	}
	r.prom.MustRegister(r.Metrics.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry for gathering
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the process-wide metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register adds collector under serviceName.metricName. A duplicate key or a
// Prometheus descriptor conflict is an invalid error.
func (r *MetricsRegistry) Register(serviceName, metricName string, collector prometheus.Collector) error {
	key := metricKey{service: serviceName, name: metricName}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collectors[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", "Register", "check duplicate")
	}

	if err := r.prom.Register(collector); err != nil {
		var conflict prometheus.AlreadyRegisteredError
		if stderrors.As(err, &conflict) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("register %s", key))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register with prometheus")
	}

	r.collectors[key] = collector
	return nil
}

// RegisterCounter registers a counter
func (r *MetricsRegistry) RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error {
	return r.Register(serviceName, metricName, counter)
}

// RegisterGauge registers a gauge
func (r *MetricsRegistry) RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error {
	return r.Register(serviceName, metricName, gauge)
}

// RegisterHistogram registers a histogram
func (r *MetricsRegistry) RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error {
	return r.Register(serviceName, metricName, histogram)
}

// RegisterCounterVec registers a labelled counter
func (r *MetricsRegistry) RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error {
	return r.Register(serviceName, metricName, counterVec)
}

// RegisterGaugeVec registers a labelled gauge
func (r *MetricsRegistry) RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error {
	return r.Register(serviceName, metricName, gaugeVec)
}

// RegisterHistogramVec registers a labelled histogram
func (r *MetricsRegistry) RegisterHistogramVec(serviceName, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.Register(serviceName, metricName, histogramVec)
}

// Unregister removes a metric. It reports false if nothing was registered
// under the key.
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	key := metricKey{service: serviceName, name: metricName}

	r.mu.Lock()
	defer r.mu.Unlock()

	collector, ok := r.collectors[key]
	if !ok || !r.prom.Unregister(collector) {
		return false
	}
	delete(r.collectors, key)
	return true
}

// Registered lists the registered component metrics as "service.name", sorted
func (r *MetricsRegistry) Registered() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.collectors))
	for key := range r.collectors {
		names = append(names, key.String())
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}
