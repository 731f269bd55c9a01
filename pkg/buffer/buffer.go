// Package buffer provides a bounded, thread-safe FIFO ring with overflow policies.
//
// Items leave the ring only through Read, so a consumer can Peek at the head,
// attempt to deliver it and Read it away only after delivery succeeded. The
// channel send queue relies on that to keep a failed write at the head across
// reconnects.
//
// Statistics are always collected; Prometheus metrics are optional via WithMetrics.
package buffer

import (
	"github.com/c360/paramstream/errors"
)

// Buffer is a bounded FIFO of T.
type Buffer[T any] interface {
	// Write appends an item, applying the overflow policy when full.
	Write(item T) error

	// Read removes and returns the head item.
	Read() (T, bool)

	// Peek returns the head item without removing it.
	Peek() (T, bool)

	// Notify returns a channel that receives a signal after each successful Write.
	// Signals coalesce; readers should drain until Peek reports empty.
	Notify() <-chan struct{}

	Size() int
	Capacity() int
	Clear()
	Stats() Statistics

	// Close rejects further writes. Items already queued stay readable.
	Close() error
}

// OverflowPolicy defines how a full buffer treats a new item.
type OverflowPolicy int

const (
	// Reject refuses the new item with ErrFull.
	Reject OverflowPolicy = iota

	// DropOldest discards the head item to make room.
	DropOldest

	// DropNewest discards the new item silently.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "Reject"
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// Sentinel errors
var (
	// ErrFull is returned by Write under the Reject policy.
	ErrFull = errors.ErrResourceExhausted

	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("buffer closed")
)

// DropCallback is called with each item discarded by an overflow policy or Clear.
type DropCallback[T any] func(item T)

// Statistics is a snapshot of buffer counters.
type Statistics struct {
	Writes  int64 `json:"writes"`
	Reads   int64 `json:"reads"`
	Drops   int64 `json:"drops"`
	Rejects int64 `json:"rejects"`
	MaxSize int   `json:"max_size"`
}

// New creates a buffer holding up to capacity items.
func New[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newRing(capacity, options...)
}
