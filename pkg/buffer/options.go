package buffer

import (
	"github.com/c360/paramstream/metric"
)

// Option configures a buffer
type Option[T any] func(*ring[T])

// WithOverflowPolicy sets what Write does when the buffer is full. Defaults to Reject.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(r *ring[T]) { r.policy = policy }
}

// WithDropCallback is called with every item an overflow policy or Clear discards
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(r *ring[T]) { r.onDrop = callback }
}

// WithMetrics exports the buffer counters with names starting with prefix.
// Ignored when registry is nil or prefix is empty.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(r *ring[T]) {
		r.registry = registry
		r.prefix = prefix
	}
}
