package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/paramstream/metric"
)

// Lanes runs one serial FIFO queue per key. Work for the same key is processed
// one item at a time in submission order; different keys run concurrently.
// A lane's goroutine is created on first Submit and lives until Close(key) or Stop.
type Lanes[T any] struct {
	queueSize int
	processor func(ctx context.Context, key string, work T) error

	mu     sync.Mutex
	lanes  map[string]*lane[T]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
	stopped bool

	metrics *Metrics

	submitted int64
	processed int64
	failed    int64
	dropped   int64
}

type lane[T any] struct {
	items chan laneItem[T]
	quit  chan struct{}
	once  sync.Once
}

type laneItem[T any] struct {
	work    T
	barrier chan struct{}
}

func (l *lane[T]) close() {
	l.once.Do(func() { close(l.quit) })
}

// LaneOption configures Lanes
type LaneOption[T any] func(*laneOptions)

type laneOptions struct {
	registry *metric.MetricsRegistry
	prefix   string
}

// WithLaneMetrics registers lane metrics with the registry under prefix
func WithLaneMetrics[T any](registry *metric.MetricsRegistry, prefix string) LaneOption[T] {
	return func(o *laneOptions) {
		o.registry = registry
		o.prefix = prefix
	}
}

// NewLanes creates keyed serial lanes. queueSize bounds each lane's queue.
func NewLanes[T any](queueSize int, processor func(context.Context, string, T) error, opts ...LaneOption[T]) *Lanes[T] {
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	var o laneOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &Lanes[T]{
		queueSize: queueSize,
		processor: processor,
		lanes:     make(map[string]*lane[T]),
		metrics:   newMetrics(o.registry, "worker_lanes", o.prefix),
	}
}

// Start enables submission. Processors receive a context derived from ctx.
func (l *Lanes[T]) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return ErrPoolAlreadyStarted
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true
	return nil
}

// Submit appends work to the key's lane, blocking while that lane is full.
// It returns ctx.Err() if ctx ends first, ErrLaneClosed if the lane is closed
// meanwhile and ErrPoolStopped after Stop.
func (l *Lanes[T]) Submit(ctx context.Context, key string, work T) error {
	ln, err := l.laneFor(key)
	if err != nil {
		return err
	}
	return l.enqueue(ctx, ln, laneItem[T]{work: work})
}

func (l *Lanes[T]) laneFor(key string) (*lane[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil, ErrPoolNotStarted
	}
	if l.stopped {
		return nil, ErrPoolStopped
	}

	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane[T]{
			items: make(chan laneItem[T], l.queueSize),
			quit:  make(chan struct{}),
		}
		l.lanes[key] = ln
		l.wg.Add(1)
		go l.run(key, ln)
		l.metrics.setActive(len(l.lanes))
	}
	return ln, nil
}

func (l *Lanes[T]) enqueue(ctx context.Context, ln *lane[T], item laneItem[T]) error {
	select {
	case <-ln.quit:
		return ErrLaneClosed
	default:
	}

	select {
	case ln.items <- item:
		if item.barrier == nil {
			atomic.AddInt64(&l.submitted, 1)
			if l.metrics != nil {
				l.metrics.submitted.Inc()
				l.metrics.queueDepth.Inc()
			}
		}
		return nil
	case <-ln.quit:
		return ErrLaneClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lanes[T]) run(key string, ln *lane[T]) {
	defer l.wg.Done()
	defer l.discard(ln)

	for {
		// quit wins over pending items
		select {
		case <-ln.quit:
			return
		default:
		}

		select {
		case <-ln.quit:
			return
		case item := <-ln.items:
			if item.barrier != nil {
				close(item.barrier)
				continue
			}
			if l.metrics != nil {
				l.metrics.queueDepth.Dec()
			}

			start := time.Now()
			err := runSafe(l.ctx, func(ctx context.Context, w T) error {
				return l.processor(ctx, key, w)
			}, item.work)

			atomic.AddInt64(&l.processed, 1)
			if err != nil {
				atomic.AddInt64(&l.failed, 1)
			}
			l.metrics.observe(time.Since(start).Seconds(), err)
		}
	}
}

// discard drops whatever is still queued on a lane that has exited and
// releases any waiting barriers.
func (l *Lanes[T]) discard(ln *lane[T]) {
	for {
		select {
		case item := <-ln.items:
			if item.barrier != nil {
				close(item.barrier)
				continue
			}
			atomic.AddInt64(&l.dropped, 1)
			if l.metrics != nil {
				l.metrics.queueDepth.Dec()
				l.metrics.dropped.Inc()
			}
		default:
			return
		}
	}
}

// Close stops the key's lane. The item in progress finishes; queued items are dropped.
// A later Submit for the same key starts a fresh lane.
func (l *Lanes[T]) Close(key string) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if ok {
		delete(l.lanes, key)
		l.metrics.setActive(len(l.lanes))
	}
	l.mu.Unlock()

	if ok {
		ln.close()
	}
}

// Flush waits until every item submitted to any lane before the call has been processed
// or dropped.
func (l *Lanes[T]) Flush(ctx context.Context) error {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return nil
	}
	snapshot := make([]*lane[T], 0, len(l.lanes))
	for _, ln := range l.lanes {
		snapshot = append(snapshot, ln)
	}
	l.mu.Unlock()

	barriers := make([]chan struct{}, 0, len(snapshot))
	waitOn := make([]*lane[T], 0, len(snapshot))
	for _, ln := range snapshot {
		b := make(chan struct{})
		switch err := l.enqueue(ctx, ln, laneItem[T]{barrier: b}); err {
		case nil:
			barriers = append(barriers, b)
			waitOn = append(waitOn, ln)
		case ErrLaneClosed:
			// nothing left to wait for
		default:
			return err
		}
	}

	for i, b := range barriers {
		select {
		case <-b:
		case <-waitOn[i].quit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop closes every lane and waits for in-flight items. Queued items are dropped.
func (l *Lanes[T]) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	for key, ln := range l.lanes {
		ln.close()
		delete(l.lanes, key)
	}
	l.cancel()
	l.mu.Unlock()

	if !waitTimeout(&l.wg, timeout) {
		return ErrStopTimeout
	}
	l.metrics.setActive(0)
	return nil
}

// Len returns the number of live lanes
func (l *Lanes[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// Stats returns lane statistics
func (l *Lanes[T]) Stats() LaneStats {
	return LaneStats{
		Lanes:     l.Len(),
		Submitted: atomic.LoadInt64(&l.submitted),
		Processed: atomic.LoadInt64(&l.processed),
		Failed:    atomic.LoadInt64(&l.failed),
		Dropped:   atomic.LoadInt64(&l.dropped),
	}
}

// LaneStats represents lane statistics
type LaneStats struct {
	Lanes     int   `json:"lanes"`
	Submitted int64 `json:"submitted"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}
