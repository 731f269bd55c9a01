package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/paramstream/channel"
	"github.com/c360/paramstream/envelope"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/health"
	"github.com/c360/paramstream/metric"
)

// Layer owns the feed channels and merges their samples into one stream
type Layer struct {
	cfg      Config
	channels []*channel.Channel
	writer   *channel.Channel
	logger   *slog.Logger
	metrics  *layerMetrics

	subsMu  sync.Mutex
	subs    map[*Subscription]struct{}
	drained bool

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once
}

type options struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	dialer   channel.Dialer
}

// Option configures a Layer
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics registers layer and channel metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithDialer replaces the websocket dialer of every channel
func WithDialer(d channel.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// New builds a channel for each configured group. Only the primary channel accepts writes.
func New(cfg Config, opts ...Option) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	l := &Layer{
		cfg:     cfg,
		logger:  o.logger.With("component", "ingest"),
		metrics: newLayerMetrics(o.registry),
		subs:    make(map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}

	chOpts := []channel.Option{
		channel.WithLogger(o.logger),
		channel.WithMetrics(o.registry),
	}
	if o.dialer != nil {
		chOpts = append(chOpts, channel.WithDialer(o.dialer))
	}

	for _, cc := range cfg.channelConfigs() {
		ch, err := channel.New(cc, chOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "Ingest", "New", fmt.Sprintf("create %s channel", cc.Role))
		}
		l.channels = append(l.channels, ch)
		if cc.Role == PrimaryRole {
			l.writer = ch
		}
	}

	return l, nil
}

// Channels returns the configured channels, primary first
func (l *Layer) Channels() []*channel.Channel {
	return append([]*channel.Channel(nil), l.channels...)
}

// Start starts every channel and the merge goroutines
func (l *Layer) Start(ctx context.Context) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.started {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Ingest", "Start", "check started state")
	}
	if l.stopped {
		return errors.WrapFatal(errors.ErrShuttingDown, "Ingest", "Start", "check stopped state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	for _, ch := range l.channels {
		if err := ch.Start(runCtx); err != nil {
			cancel()
			return errors.Wrap(err, "Ingest", "Start", "start "+ch.Role()+" channel")
		}
		l.wg.Add(1)
		go l.forward(runCtx, ch)
	}

	go func() {
		l.wg.Wait()
		l.drain()
	}()

	l.started = true
	l.logger.Info("Ingestion started", "channels", len(l.channels))
	return nil
}

// Stop stops every channel, which cancels pending reconnects, and closes all subscriptions
func (l *Layer) Stop(timeout time.Duration) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.stopped {
		return nil
	}
	l.stopped = true
	if l.cancel != nil {
		l.cancel()
	}

	var errs []error
	for _, ch := range l.channels {
		if err := ch.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}

	if !l.started {
		l.drain()
	}

	doneCh := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("shutdown timeout after %v", timeout))
	}

	if len(errs) > 0 {
		return errors.WrapTransient(fmt.Errorf("%v", errs), "Ingest", "Stop", "stop channels")
	}
	return nil
}

// Done is closed once every channel has terminated and all subscriptions are closed
func (l *Layer) Done() <-chan struct{} {
	return l.done
}

// Subscribe attaches a new consumer to the merged stream. It receives samples
// that arrive after the call. Once the layer is drained the returned
// subscription is already closed.
func (l *Layer) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	sub := newSubscription(l, buffer)

	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	if l.drained {
		sub.close()
		return sub
	}
	l.subs[sub] = struct{}{}
	if l.metrics != nil {
		l.metrics.subscriptions.Set(float64(len(l.subs)))
	}
	return sub
}

func (l *Layer) detach(sub *Subscription) {
	l.subsMu.Lock()
	delete(l.subs, sub)
	if l.metrics != nil {
		l.metrics.subscriptions.Set(float64(len(l.subs)))
	}
	l.subsMu.Unlock()
}

// WriteParameter sets a parameter on the feed through the primary channel
func (l *Layer) WriteParameter(name string, value any) error {
	if l.writer == nil {
		return errors.WrapInvalid(errors.ErrUnsupportedOperation,
			"Ingest", "WriteParameter", "find write-capable channel")
	}

	payload, err := envelope.EncodeWrite(name, value)
	if err != nil {
		return errors.WrapInvalid(err, "Ingest", "WriteParameter", "encode write request")
	}
	if err := l.writer.Send(payload); err != nil {
		if l.metrics != nil {
			l.metrics.writeErrors.Inc()
		}
		return errors.Wrap(err, "Ingest", "WriteParameter", "queue write request")
	}
	if l.metrics != nil {
		l.metrics.writes.Inc()
	}
	l.logger.Debug("Parameter write queued", "param", name)
	return nil
}

// Health aggregates channel health. One terminated channel out of two reports degraded.
func (l *Layer) Health() health.Status {
	statuses := make([]health.Status, 0, len(l.channels))
	for _, ch := range l.channels {
		statuses = append(statuses, ch.Health())
	}
	return health.Aggregate("ingest", statuses)
}

// forward copies one channel's samples to every current subscription.
func (l *Layer) forward(ctx context.Context, ch *channel.Channel) {
	defer l.wg.Done()

	for sample := range ch.Samples() {
		if l.metrics != nil {
			l.metrics.samples.WithLabelValues(sample.Channel).Inc()
		}
		for _, sub := range l.snapshot() {
			sub.deliver(ctx, sample)
		}
	}

	if err := ch.Err(); err != nil {
		l.logger.Warn("Channel dropped", "channel", ch.Role(), "error", err)
		if l.metrics != nil {
			l.metrics.channelsDropped.Inc()
		}
	}
}

func (l *Layer) snapshot() []*Subscription {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	out := make([]*Subscription, 0, len(l.subs))
	for sub := range l.subs {
		out = append(out, sub)
	}
	return out
}

// drain closes every subscription once no channel can produce samples.
func (l *Layer) drain() {
	l.subsMu.Lock()
	l.drained = true
	subs := l.subs
	l.subs = make(map[*Subscription]struct{})
	l.subsMu.Unlock()

	for sub := range subs {
		sub.close()
	}
	if l.metrics != nil {
		l.metrics.subscriptions.Set(0)
	}
	l.doneOnce.Do(func() {
		close(l.done)
		l.logger.Info("Ingestion drained")
	})
}
