// Package worker provides bounded worker pools and keyed serial lanes
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/paramstream/metric"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 1000
)

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolStopped
)

// counters are the pool statistics updated from workers without locking
type counters struct {
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Pool runs a fixed number of workers over a shared bounded queue.
// Items are processed concurrently with no ordering guarantee.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error
	queue     chan T

	mu    sync.Mutex // guards state and sends on queue
	state poolState
	wg    sync.WaitGroup

	stats   counters
	metrics *Metrics

	registry      *metric.MetricsRegistry
	metricsPrefix string
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics with the registry under prefix
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a pool of workers draining a queue of queueSize items.
// Non-positive sizes fall back to defaults. A nil process function panics.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if process == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		queue:     make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics = newMetrics(p.registry, "worker_pool", p.metricsPrefix)
	return p
}

// Start launches the workers. They exit when ctx is cancelled or after
// Stop has drained the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != poolIdle {
		return ErrPoolAlreadyStarted
	}
	p.state = poolRunning

	p.wg.Add(p.workers)
	for range p.workers {
		go p.run(ctx)
	}
	p.metrics.setActive(p.workers)
	return nil
}

// Submit queues work without blocking. A full queue drops the item and
// returns ErrQueueFull.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case poolIdle:
		return ErrPoolNotStarted
	case poolStopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		p.stats.submitted.Add(1)
		p.metrics.submit(len(p.queue))
		return nil
	default:
		p.stats.dropped.Add(1)
		p.metrics.drop()
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for queued items to finish.
// Stopping an idle or stopped pool is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = poolStopped
	close(p.queue)
	p.mu.Unlock()

	if !waitTimeout(&p.wg, timeout) {
		return ErrStopTimeout
	}
	p.metrics.setActive(0)
	return nil
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.stats.submitted.Load(),
		Processed:  p.stats.processed.Load(),
		Failed:     p.stats.failed.Load(),
		Dropped:    p.stats.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}
			start := time.Now()
			err := runSafe(ctx, p.process, work)

			p.stats.processed.Add(1)
			if err != nil {
				p.stats.failed.Add(1)
			}
			p.metrics.depth(len(p.queue))
			p.metrics.observe(time.Since(start).Seconds(), err)
		}
	}
}

// waitTimeout reports whether wg finished within timeout
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// runSafe turns a panic in fn into an error so one bad item cannot kill a worker
func runSafe[T any](ctx context.Context, fn func(context.Context, T) error, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: processor panic: %v", r)
		}
	}()
	return fn(ctx, work)
}
