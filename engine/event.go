package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/c360/paramstream/pkg/timestamp"
)

// EmittedEvent is published when a definition's ShouldEmit returns true
type EmittedEvent struct {
	ID        string
	Name      string
	Value     any
	Timestamp time.Time
}

type emittedEventJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalJSON encodes the timestamp as unix milliseconds
func (e EmittedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(emittedEventJSON{
		ID:        e.ID,
		Name:      e.Name,
		Value:     e.Value,
		Timestamp: timestamp.ToUnixMs(e.Timestamp),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON
func (e *EmittedEvent) UnmarshalJSON(data []byte) error {
	var raw emittedEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ID = raw.ID
	e.Name = raw.Name
	e.Value = raw.Value
	e.Timestamp = timestamp.FromUnixMs(raw.Timestamp)
	return nil
}

// EventSubscription receives emitted events from the engine's bus
type EventSubscription struct {
	bus    *eventBus
	ch     chan EmittedEvent
	closed chan struct{}

	mu        sync.RWMutex
	isClosed  bool
	closeOnce sync.Once
}

// Events returns the event stream. It is closed by Unsubscribe.
func (s *EventSubscription) Events() <-chan EmittedEvent {
	return s.ch
}

// Unsubscribe detaches the subscription and closes its stream
func (s *EventSubscription) Unsubscribe() {
	s.bus.remove(s)
	s.close()
}

func (s *EventSubscription) deliver(ctx context.Context, ev EmittedEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.closed:
	case <-ctx.Done():
	}
}

func (s *EventSubscription) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		s.isClosed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// eventBus fans events out to in-process subscribers. Delivery blocks on a
// full subscriber until it reads, unsubscribes or the engine stops.
type eventBus struct {
	mu   sync.Mutex
	subs map[*EventSubscription]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[*EventSubscription]struct{})}
}

func (b *eventBus) subscribe(buffer int) *EventSubscription {
	if buffer < 0 {
		buffer = 0
	}
	sub := &EventSubscription{
		bus:    b,
		ch:     make(chan EmittedEvent, buffer),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *eventBus) remove(sub *EventSubscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func (b *eventBus) publish(ctx context.Context, ev EmittedEvent) {
	b.mu.Lock()
	subs := make([]*EventSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ctx, ev)
	}
}

func (b *eventBus) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
