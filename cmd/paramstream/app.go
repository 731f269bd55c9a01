package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/paramstream/catalog"
	"github.com/c360/paramstream/config"
	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/health"
	"github.com/c360/paramstream/ingest"
	"github.com/c360/paramstream/metric"
	"github.com/c360/paramstream/natsclient"
	"github.com/c360/paramstream/output/file"
	"github.com/c360/paramstream/output/httppost"
	"github.com/c360/paramstream/output/natssink"
	"github.com/c360/paramstream/output/websocket"
)

// healthInterval is how often component health is copied into metrics
const healthInterval = 15 * time.Second

// starter and stopper are the lifecycle halves a sink may implement
type starter interface {
	Start(ctx context.Context) error
}

type stopper interface {
	Stop(timeout time.Duration) error
}

type healthReporter interface {
	Health() health.Status
}

// app owns every long-lived component. Start order is sinks, engine,
// ingest, catalog watch; stop runs in reverse.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry      *metric.MetricsRegistry
	monitor       *health.Monitor
	metricsServer *metric.Server
	nats          *natsclient.Client
	ingest        *ingest.Layer
	engine        *engine.Engine
	catalog       *catalog.Catalog
	sinks         []engine.Sink

	started []stopper
	cancel  context.CancelFunc
	fatal   chan error
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(cfg.Service.Name),
		fatal:    make(chan error, 1),
	}
	a.registry.CoreMetrics().RecordBuildInfo(Version)

	if cfg.NATS.Enabled {
		client, err := newNATSClient(cfg.NATS, a.registry, logger)
		if err != nil {
			return nil, err
		}
		a.nats = client
		a.monitor.Register("nats", client.Health)
	}

	layer, err := ingest.New(cfg.Ingest,
		ingest.WithLogger(logger),
		ingest.WithMetrics(a.registry))
	if err != nil {
		return nil, fmt.Errorf("create ingest layer: %w", err)
	}
	a.ingest = layer
	a.monitor.Register("ingest", layer.Health)

	if err := a.buildSinks(); err != nil {
		return nil, err
	}

	eng, err := engine.New(
		engine.SourceFunc(func(n int) engine.Stream { return layer.Subscribe(n) }),
		layer,
		engine.WithLogger(logger),
		engine.WithMetrics(a.registry),
		engine.WithErrorHandler(a.handleEvaluationError),
		engine.WithSinks(a.sinks...),
		engine.WithLaneQueueSize(cfg.Engine.LaneQueueSize),
		engine.WithSampleBuffer(cfg.Engine.SampleBuffer),
		engine.WithSinkWorkers(cfg.Engine.SinkWorkers),
		engine.WithDebug(cfg.Engine.Debug),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	a.engine = eng
	a.monitor.Register("engine", eng.Health)

	if len(cfg.Catalog.Files) > 0 {
		cat, err := catalog.New(eng, cfg.Catalog.Files,
			catalog.WithLogger(logger),
			catalog.WithMetrics(a.registry),
			catalog.WithDebounce(cfg.Catalog.Debounce))
		if err != nil {
			return nil, fmt.Errorf("create catalog: %w", err)
		}
		a.catalog = cat
	} else {
		logger.Warn("No catalog files configured, the engine starts with no definitions")
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
		a.metricsServer.Handle("/health", a.monitor)
	}

	return a, nil
}

func newNATSClient(cfg config.NATSConfig, registry *metric.MetricsRegistry, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Name),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithTimeout(cfg.Timeout),
		natsclient.WithTLS(cfg.TLS),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(cfg.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

// buildSinks creates every enabled output in a fixed order
func (a *app) buildSinks() error {
	out := a.cfg.Outputs

	if out.File.Enabled {
		sink, err := file.New(out.File.Config, file.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("create file output: %w", err)
		}
		a.addSink(sink)
	}

	if out.HTTPPost.Enabled {
		sink, err := httppost.New(out.HTTPPost.Config, httppost.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("create httppost output: %w", err)
		}
		a.addSink(sink)
	}

	if out.WebSocket.Enabled {
		sink, err := websocket.New(out.WebSocket.Config,
			websocket.WithLogger(a.logger),
			websocket.WithMetrics(a.registry))
		if err != nil {
			return fmt.Errorf("create websocket output: %w", err)
		}
		a.addSink(sink)
	}

	if out.NATS.Enabled {
		if a.nats == nil {
			return fmt.Errorf("create nats output: nats connection is disabled")
		}
		sink, err := natssink.New(out.NATS.Config, a.nats, a.logger)
		if err != nil {
			return fmt.Errorf("create nats output: %w", err)
		}
		a.addSink(sink)
	}

	return nil
}

func (a *app) addSink(sink engine.Sink) {
	a.sinks = append(a.sinks, sink)
	if hr, ok := sink.(healthReporter); ok {
		a.monitor.Register("output-"+sink.Name(), hr.Health)
	}
}

// start brings components up in dependency order. On error the components
// already started are recorded so stop can unwind them.
func (a *app) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(); err != nil {
				a.reportFatal(fmt.Errorf("metrics server: %w", err))
			}
		}()
		a.started = append(a.started, a.metricsServer)
		a.logger.Info("Metrics server started",
			"port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
	}

	if a.nats != nil {
		if err := a.nats.Connect(runCtx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.started = append(a.started, natsCloser{a.nats})
	}

	for _, sink := range a.sinks {
		if s, ok := sink.(starter); ok {
			if err := s.Start(runCtx); err != nil {
				return fmt.Errorf("start %s output: %w", sink.Name(), err)
			}
		}
		if s, ok := sink.(stopper); ok {
			a.started = append(a.started, s)
		}
	}

	if a.catalog != nil {
		change, err := a.catalog.Load()
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		a.logger.Info("Catalog loaded",
			"added", len(change.Added),
			"definitions", len(a.engine.Definitions()))
	}

	if err := a.engine.Start(runCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	a.started = append(a.started, a.engine)

	if err := a.ingest.Start(runCtx); err != nil {
		return fmt.Errorf("start ingest: %w", err)
	}
	a.started = append(a.started, a.ingest)

	go a.reportHealth(runCtx)

	if a.catalog != nil && a.cfg.Catalog.Watch {
		go func() {
			if err := a.catalog.Watch(runCtx); err != nil {
				a.logger.Error("Catalog watch stopped", "error", err)
			}
		}()
	}

	return nil
}

// stop unwinds started components in reverse order and reports the first error
func (a *app) stop(timeout time.Duration) error {
	if a.cancel != nil {
		a.cancel()
	}

	var firstErr error
	for i := len(a.started) - 1; i >= 0; i-- {
		if err := a.started[i].Stop(timeout); err != nil {
			a.logger.Error("Component stop failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.started = nil
	return firstErr
}

// handleEvaluationError logs a failed round and counts it by error class
func (a *app) handleEvaluationError(err *engine.EvaluationError) {
	class := errors.Classify(err.Err).String()
	a.registry.CoreMetrics().RecordError("engine", class)
	a.logger.Error("Evaluation failed",
		"definition", err.Definition,
		"stage", string(err.Stage),
		"class", class,
		"error", err.Err)
}

// reportHealth mirrors the monitor's component statuses into the core
// gauges until ctx is done
func (a *app) reportHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		a.recordHealth()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) recordHealth() {
	core := a.registry.CoreMetrics()
	for _, sub := range a.monitor.Check().SubStatuses {
		core.RecordHealthStatus(sub.Component, sub.Healthy)
		core.RecordComponentStatus(sub.Component, statusLevel(sub))
	}
}

// statusLevel maps a status to the component_status gauge: 2 healthy,
// 1 degraded, 0 unhealthy
func statusLevel(s health.Status) int {
	switch {
	case s.IsHealthy():
		return 2
	case s.IsDegraded():
		return 1
	default:
		return 0
	}
}

func (a *app) reportFatal(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}

// natsCloser adapts the NATS client to the stopper shape
type natsCloser struct {
	client *natsclient.Client
}

func (n natsCloser) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return n.client.Close(ctx)
}
