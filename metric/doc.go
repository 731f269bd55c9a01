// Package metric provides the Prometheus registry and HTTP endpoint for paramstream.
//
// MetricsRegistry wraps a private prometheus.Registry. It pre-registers a small
// set of process-wide metrics (Metrics) plus the Go runtime collectors, and
// lets each component register its own collectors under a component name:
//
//	frames := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "paramstream",
//	    Subsystem: "channel",
//	    Name:      "frames_total",
//	    Help:      "Frames received",
//	})
//	if err := registry.RegisterCounter("channel", "frames_total", frames); err != nil {
//	    return err
//	}
//
// Registering the same component/metric pair twice returns an invalid-class
// error rather than panicking.
//
// Components take a *MetricsRegistry and build their metric struct with a
// newXMetrics constructor that returns nil when the registry is nil, so every
// recording site guards with a nil check and metrics stay optional.
//
// Server serves /metrics (OpenMetrics enabled) and /health. Extra handlers,
// typically the health.Monitor, are mounted with Handle before Start.
package metric
