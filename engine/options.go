package engine

import (
	"log/slog"
	"time"

	"github.com/c360/paramstream/metric"
)

// Default engine settings
const (
	DefaultLaneQueueSize = 256
	DefaultSampleBuffer  = 256
	DefaultSinkWorkers   = 2
	DefaultSinkQueueSize = 1024
)

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics registers engine metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

// WithErrorHandler replaces the default handler, which logs at error level
func WithErrorHandler(handler ErrorHandler) Option {
	return func(e *Engine) {
		e.errorHandler = handler
	}
}

// WithSinks adds sinks that receive every emitted event
func WithSinks(sinks ...Sink) Option {
	return func(e *Engine) {
		e.sinks = append(e.sinks, sinks...)
	}
}

// WithClock replaces time.Now for event timestamps and elapsed times
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLaneQueueSize bounds each definition's pending evaluations
func WithLaneQueueSize(size int) Option {
	return func(e *Engine) {
		e.laneQueueSize = size
	}
}

// WithSampleBuffer sets the buffer of the engine's sample subscription
func WithSampleBuffer(size int) Option {
	return func(e *Engine) {
		e.sampleBuffer = size
	}
}

// WithSinkWorkers sets the number of workers publishing to sinks
func WithSinkWorkers(workers int) Option {
	return func(e *Engine) {
		e.sinkWorkers = workers
	}
}

// WithDebug logs every inbound sample at debug level
func WithDebug(debug bool) Option {
	return func(e *Engine) {
		e.debug.Store(debug)
	}
}
