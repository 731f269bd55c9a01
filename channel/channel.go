package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/paramstream/envelope"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/health"
	"github.com/c360/paramstream/metric"
	"github.com/c360/paramstream/pkg/buffer"
	"github.com/c360/paramstream/pkg/retry"
)

// ErrChannelClosed is returned by Send once the channel has terminated
var ErrChannelClosed = errors.New("channel closed")

// Channel is one resilient subscription to the telemetry feed.
//
// It dials the configured URL, sends the group subscribe request, then
// flushes queued outbound payloads in FIFO order while decoding inbound
// frames into samples. A dropped connection is re-established with a fresh
// retry budget; when a connect phase exhausts its budget the channel
// terminates and closes its sample stream.
type Channel struct {
	cfg       Config
	dialer    Dialer
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
	metrics   *channelMetrics
	subscribe []byte

	samples   chan envelope.Sample
	sendQueue buffer.Buffer[[]byte]

	state atomic.Int32

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	done          chan struct{}
	terminateOnce sync.Once
	errMu         sync.RWMutex
	termErr       error

	startTime       time.Time
	lastActivity    atomic.Int64
	framesReceived  atomic.Int64
	framesDropped   atomic.Int64
	samplesDecoded  atomic.Int64
	writes          atomic.Int64
	writeErrors     atomic.Int64
	connectFailures atomic.Int64
	reconnects      atomic.Int64
}

// Option configures a Channel
type Option func(*Channel)

// WithDialer replaces the default websocket dialer
func WithDialer(d Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithMetrics registers channel metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Channel) {
		c.registry = registry
	}
}

// New creates a channel. The connection is not opened until Start.
func New(cfg Config, opts ...Option) (*Channel, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	subscribe, err := envelope.EncodeSubscribe(cfg.Group, cfg.MaxRate, cfg.MinRate)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Channel", "New", "encode subscribe request")
	}

	c := &Channel{
		cfg:       cfg,
		subscribe: subscribe,
		samples:   make(chan envelope.Sample, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = &WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "channel", "role", cfg.Role)
	c.metrics = newChannelMetrics(c.registry, cfg.Role)

	c.sendQueue, err = buffer.New[[]byte](cfg.SendQueueSize,
		buffer.WithMetrics[[]byte](c.registry, "channel_"+cfg.Role+"_send"))
	if err != nil {
		return nil, errors.Wrap(err, "Channel", "New", "create send queue")
	}

	c.setState(StateDisconnected)
	return c, nil
}

// Role returns the configured role name
func (c *Channel) Role() string {
	return c.cfg.Role
}

// Start begins the connect loop in the background
func (c *Channel) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Channel", "Start", "check started state")
	}
	if c.State() == StateTerminated {
		return errors.WrapFatal(ErrChannelClosed, "Channel", "Start", "check terminated state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	c.startTime = time.Now()

	c.wg.Add(1)
	go c.run(runCtx)

	c.logger.Info("Channel started", "group", c.cfg.Group)
	return nil
}

// Stop cancels the connect loop, closes the socket and waits for the
// goroutines to exit. A channel that was never started is terminated directly.
func (c *Channel) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.started {
		c.terminate(nil)
		return nil
	}
	c.cancel()

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Channel",
			"Stop",
			"wait for goroutines",
		)
	}
}

// Send queues payload for delivery. Queued payloads survive reconnects and are
// written in order after the subscribe request of each connection.
func (c *Channel) Send(payload []byte) error {
	if c.State() == StateTerminated {
		return ErrChannelClosed
	}
	if err := c.sendQueue.Write(payload); err != nil {
		if errors.Is(err, buffer.ErrClosed) {
			return ErrChannelClosed
		}
		return errors.WrapTransient(err, "Channel", "Send", "queue payload")
	}
	return nil
}

// Samples returns the decoded sample stream. It is closed when the channel terminates.
func (c *Channel) Samples() <-chan envelope.Sample {
	return c.samples
}

// Done is closed when the channel terminates
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the channel terminated, or nil after a clean stop
func (c *Channel) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.termErr
}

// State returns the current connection state
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	if c.metrics != nil {
		c.metrics.state.Set(float64(s))
	}
}

// Health reports the channel's health
func (c *Channel) Health() health.Status {
	name := "channel." + c.cfg.Role

	var status health.Status
	switch s := c.State(); s {
	case StateSubscribed, StateStreaming:
		status = health.NewHealthy(name, s.String())
	case StateTerminated:
		msg := "terminated"
		if err := c.Err(); err != nil {
			msg = err.Error()
		}
		status = health.NewUnhealthy(name, msg)
	default:
		status = health.NewDegraded(name, s.String())
	}

	var uptime time.Duration
	c.lifecycleMu.Lock()
	if c.started {
		uptime = time.Since(c.startTime)
	}
	c.lifecycleMu.Unlock()

	var lastActivity time.Time
	if ns := c.lastActivity.Load(); ns > 0 {
		lastActivity = time.Unix(0, ns)
	}

	return status.WithMetrics(&health.Metrics{
		Uptime:       uptime,
		ErrorCount:   int(c.connectFailures.Load() + c.writeErrors.Load()),
		Processed:    c.samplesDecoded.Load(),
		Reconnects:   c.reconnects.Load(),
		LastActivity: lastActivity,
	})
}

// Stats is a snapshot of channel counters
type Stats struct {
	Role            string `json:"role"`
	State           string `json:"state"`
	FramesReceived  int64  `json:"frames_received"`
	FramesDropped   int64  `json:"frames_dropped"`
	Samples         int64  `json:"samples"`
	Writes          int64  `json:"writes"`
	WriteErrors     int64  `json:"write_errors"`
	ConnectFailures int64  `json:"connect_failures"`
	Reconnects      int64  `json:"reconnects"`
	QueuedSends     int    `json:"queued_sends"`
}

// Stats returns current channel statistics
func (c *Channel) Stats() Stats {
	return Stats{
		Role:            c.cfg.Role,
		State:           c.State().String(),
		FramesReceived:  c.framesReceived.Load(),
		FramesDropped:   c.framesDropped.Load(),
		Samples:         c.samplesDecoded.Load(),
		Writes:          c.writes.Load(),
		WriteErrors:     c.writeErrors.Load(),
		ConnectFailures: c.connectFailures.Load(),
		Reconnects:      c.reconnects.Load(),
		QueuedSends:     c.sendQueue.Size(),
	}
}

// run owns the samples channel: it is the only sender and closes it on exit.
func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	var termErr error
	defer func() { c.terminate(termErr) }()

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Retry budget exhausted, channel terminated",
				"max_retries", c.cfg.MaxRetries, "error", err)
			if c.metrics != nil {
				c.metrics.exhausted.Inc()
			}
			termErr = errors.WrapFatal(
				fmt.Errorf("%w: %w", errors.ErrMaxRetriesExceeded, err),
				"Channel", "connect", "establish subscription")
			return
		}

		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		c.setState(StateDisconnected)
		c.reconnects.Add(1)
		if c.metrics != nil {
			c.metrics.reconnects.Inc()
		}
		c.logger.Info("Connection lost, reconnecting", "delay", c.cfg.RetryDelay)

		timer := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect dials and subscribes, retrying with a fixed delay.
func (c *Channel) connect(ctx context.Context) (Conn, error) {
	cfg := retry.Fixed(c.cfg.MaxRetries, c.cfg.RetryDelay)
	cfg.OnRetry = func(attempt int, err error) {
		c.logger.Debug("Connect attempt failed", "attempt", attempt, "delay", c.cfg.RetryDelay, "error", err)
	}

	return retry.DoWithResult(ctx, cfg, func() (Conn, error) {
		c.setState(StateConnecting)

		conn, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err != nil {
			c.connectFailed()
			return nil, err
		}
		if err := conn.WriteMessage(c.subscribe); err != nil {
			_ = conn.Close()
			c.connectFailed()
			return nil, err
		}

		c.setState(StateSubscribed)
		c.logger.Info("Subscribed", "group", c.cfg.Group)
		return conn, nil
	})
}

func (c *Channel) connectFailed() {
	c.setState(StateDisconnected)
	c.connectFailures.Add(1)
	if c.metrics != nil {
		c.metrics.connectFailures.Inc()
	}
}

// serve runs the writer and reader for one connection and returns once
// either side fails or ctx is done.
func (c *Channel) serve(ctx context.Context, conn Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.writeLoop(connCtx, conn)
	}()

	c.readLoop(connCtx, conn)
	cancel()
	wg.Wait()
}

// writeLoop writes queued payloads. A payload is removed from the queue only
// after its write succeeded.
func (c *Channel) writeLoop(ctx context.Context, conn Conn) {
	for {
		for {
			payload, ok := c.sendQueue.Peek()
			if !ok {
				break
			}
			if err := conn.WriteMessage(payload); err != nil {
				c.writeErrors.Add(1)
				if c.metrics != nil {
					c.metrics.writeErrors.Inc()
				}
				if ctx.Err() == nil {
					c.logger.Debug("Write failed, payload kept for next connection", "error", err)
				}
				return
			}
			c.sendQueue.Read()
			c.writes.Add(1)
			if c.metrics != nil {
				c.metrics.writes.Inc()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-c.sendQueue.Notify():
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("Read failed", "error", err)
			}
			return
		}

		now := time.Now()
		c.lastActivity.Store(now.UnixNano())
		c.framesReceived.Add(1)
		if c.metrics != nil {
			c.metrics.framesReceived.Inc()
		}

		sample, ok := envelope.Decode(data)
		if !ok {
			c.framesDropped.Add(1)
			if c.metrics != nil {
				c.metrics.framesDropped.Inc()
			}
			c.logger.Debug("Dropped frame", "size", len(data))
			continue
		}
		sample.Channel = c.cfg.Role

		if c.State() != StateStreaming {
			c.setState(StateStreaming)
		}
		c.samplesDecoded.Add(1)
		if c.metrics != nil {
			c.metrics.samples.Inc()
			if ts, ok := sample.Time(); ok {
				c.metrics.sampleLag.Observe(now.Sub(ts).Seconds())
			}
		}

		select {
		case c.samples <- sample:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) terminate(err error) {
	c.terminateOnce.Do(func() {
		c.errMu.Lock()
		c.termErr = err
		c.errMu.Unlock()

		c.setState(StateTerminated)
		_ = c.sendQueue.Close()
		close(c.samples)
		close(c.done)
		c.logger.Debug("Channel terminated")
	})
}
