package buffer

import (
	"sync"

	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/metric"
)

// ring is a fixed-capacity circular buffer.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool
	notify   chan struct{}

	stats   Statistics
	metrics *bufferMetrics

	policy   OverflowPolicy
	onDrop   DropCallback[T]
	registry *metric.MetricsRegistry
	prefix   string
}

func newRing[T any](capacity int, options ...Option[T]) (*ring[T], error) {
	r := &ring[T]{
		capacity: max(capacity, 1),
		notify:   make(chan struct{}, 1),
		policy:   Reject,
	}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}
	r.items = make([]T, r.capacity)

	if r.registry != nil && r.prefix != "" {
		metrics, err := newBufferMetrics(r.registry, r.prefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "New", "metrics registration")
		}
		r.metrics = metrics
	}
	return r, nil
}

// dropped hands discarded items to the drop callback outside the lock
func (r *ring[T]) dropped(items []T) {
	if r.onDrop == nil {
		return
	}
	for _, item := range items {
		r.onDrop(item)
	}
}

// Write appends item according to the overflow policy.
func (r *ring[T]) Write(item T) error {
	var dropped []T
	defer func() { r.dropped(dropped) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if r.size == r.capacity {
		switch r.policy {
		case DropOldest:
			dropped = append(dropped, r.removeHead())
			r.stats.Drops++
			if r.metrics != nil {
				r.metrics.drops.Inc()
			}
		case DropNewest:
			dropped = append(dropped, item)
			r.stats.Drops++
			if r.metrics != nil {
				r.metrics.drops.Inc()
			}
			return nil
		default:
			r.stats.Rejects++
			if r.metrics != nil {
				r.metrics.rejects.Inc()
			}
			return ErrFull
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Writes++
	if r.size > r.stats.MaxSize {
		r.stats.MaxSize = r.size
	}
	if r.metrics != nil {
		r.metrics.writes.Inc()
	}
	r.metrics.updateSize(r.size, r.capacity)

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// removeHead must be called with mu held and size > 0.
func (r *ring[T]) removeHead() T {
	var zero T
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	return item
}

// Read removes and returns the head item.
func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}

	item := r.removeHead()
	r.stats.Reads++
	if r.metrics != nil {
		r.metrics.reads.Inc()
	}
	r.metrics.updateSize(r.size, r.capacity)
	return item, true
}

// Peek returns the head item without removing it.
func (r *ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.items[r.tail], true
}

func (r *ring[T]) Notify() <-chan struct{} {
	return r.notify
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.capacity
}

// Clear discards every queued item.
func (r *ring[T]) Clear() {
	r.mu.Lock()
	dropped := make([]T, 0, r.size)
	for r.size > 0 {
		dropped = append(dropped, r.removeHead())
	}
	r.head, r.tail = 0, 0
	r.stats.Drops += int64(len(dropped))
	r.metrics.updateSize(0, r.capacity)
	r.mu.Unlock()

	r.dropped(dropped)
}

func (r *ring[T]) Stats() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
