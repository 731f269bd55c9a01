package engine

import (
	"context"
)

// Sink publishes emitted events outside the process
type Sink interface {
	Name() string
	Publish(ctx context.Context, event EmittedEvent) error
}

type sinkJob struct {
	sink  Sink
	event EmittedEvent
}

// publishToSink runs on the sink worker pool. Failures are logged and counted,
// never returned to the evaluating lane.
func (e *Engine) publishToSink(ctx context.Context, job sinkJob) error {
	if err := job.sink.Publish(ctx, job.event); err != nil {
		e.logger.Warn("Sink publish failed",
			"sink", job.sink.Name(), "event", job.event.Name, "error", err)
		e.metrics.recordSinkError(job.sink.Name())
		return err
	}
	e.metrics.recordSinkPublish(job.sink.Name())
	return nil
}
