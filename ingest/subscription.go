package ingest

import (
	"context"
	"sync"

	"github.com/c360/paramstream/envelope"
)

// Subscription is one consumer's view of the merged sample stream.
// Samples from one channel keep their arrival order; there is no order
// across channels.
type Subscription struct {
	layer  *Layer
	ch     chan envelope.Sample
	closed chan struct{}

	// mu guards ch against close while a delivery is in flight
	mu        sync.RWMutex
	isClosed  bool
	closeOnce sync.Once
}

func newSubscription(l *Layer, buffer int) *Subscription {
	return &Subscription{
		layer:  l,
		ch:     make(chan envelope.Sample, buffer),
		closed: make(chan struct{}),
	}
}

// Samples returns the stream. It is closed by Unsubscribe or when the layer drains.
func (s *Subscription) Samples() <-chan envelope.Sample {
	return s.ch
}

// Unsubscribe detaches the subscription and closes its stream
func (s *Subscription) Unsubscribe() {
	s.layer.detach(s)
	s.close()
}

// deliver blocks until the sample is accepted, the subscription closes or ctx ends.
func (s *Subscription) deliver(ctx context.Context, sample envelope.Sample) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return
	}
	select {
	case s.ch <- sample:
	case <-s.closed:
	case <-ctx.Done():
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		s.isClosed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
