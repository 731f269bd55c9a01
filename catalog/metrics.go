package catalog

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/paramstream/metric"
)

type catalogMetrics struct {
	reloads      prometheus.Counter
	reloadErrors prometheus.Counter
	definitions  prometheus.Gauge
}

func newCatalogMetrics(registry *metric.MetricsRegistry) *catalogMetrics {
	if registry == nil {
		return nil
	}

	m := &catalogMetrics{
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "catalog",
			Name:      "reloads_total",
			Help:      "Total successful catalog loads",
		}),
		reloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramstream",
			Subsystem: "catalog",
			Name:      "reload_errors_total",
			Help:      "Total catalog loads rejected because a file failed to read, parse or compile",
		}),
		definitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paramstream",
			Subsystem: "catalog",
			Name:      "definitions",
			Help:      "Definitions currently applied from the catalog",
		}),
	}

	_ = registry.RegisterCounter("catalog", "reloads", m.reloads)
	_ = registry.RegisterCounter("catalog", "reload_errors", m.reloadErrors)
	_ = registry.RegisterGauge("catalog", "definitions", m.definitions)

	return m
}

func (m *catalogMetrics) recordReload(definitions int) {
	if m == nil {
		return
	}
	m.reloads.Inc()
	m.definitions.Set(float64(definitions))
}

func (m *catalogMetrics) recordReloadError() {
	if m != nil {
		m.reloadErrors.Inc()
	}
}
