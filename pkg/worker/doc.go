// Package worker provides two concurrency primitives.
//
// Pool runs a fixed number of workers over one bounded queue. Submit never
// blocks: a full queue returns ErrQueueFull and the item is counted as
// dropped. paramstream uses it to fan emitted events out to sinks so that a
// slow sink cannot stall evaluation.
//
//	pool := worker.NewPool[Event](4, 1024, deliver,
//	    worker.WithMetricsRegistry[Event](registry, "sink_dispatch"))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
// Lanes runs one serial queue per key. Items for a key are processed in
// submission order by a dedicated goroutine, while different keys proceed in
// parallel. Submit blocks while the key's lane is full, which propagates
// backpressure to the producer instead of dropping work.
//
//	lanes := worker.NewLanes[Sample](256, func(ctx context.Context, key string, s Sample) error {
//	    return evaluate(ctx, key, s)
//	})
//	_ = lanes.Start(ctx)
//	_ = lanes.Submit(ctx, "avg_temp", sample)
//	_ = lanes.Flush(ctx) // wait for everything submitted so far
//	lanes.Close("avg_temp")
//
// Close(key) drops a lane's queued items; the item already running finishes.
// Both types recover processor panics and count them as failures.
//
// Statistics are always tracked with atomics. Prometheus metrics are optional
// and registered through metric.MetricsRegistry when a prefix is given.
package worker
