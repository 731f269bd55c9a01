package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/health"
	"github.com/c360/paramstream/metric"
	"github.com/c360/paramstream/pkg/timestamp"
	"github.com/c360/paramstream/pkg/tlsutil"
)

// maxParallelWrites bounds the goroutines one broadcast fans out to
const maxParallelWrites = 32

// Config holds configuration for the WebSocket broadcast sink
type Config struct {
	Addr           string               `json:"addr"`
	Path           string               `json:"path"`
	WriteTimeout   time.Duration        `json:"write_timeout"`
	PingInterval   time.Duration        `json:"ping_interval"`
	AllowedOrigins []string             `json:"allowed_origins,omitempty"` // empty allows any origin
	TLS            tlsutil.ServerConfig `json:"tls,omitempty"`
}

// DefaultConfig returns the default broadcast sink configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":8081",
		Path:         "/events",
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "addr is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path must start with /")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "write_timeout must be positive")
	}
	if c.PingInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "ping_interval must be positive")
	}
	return nil
}

// MessageEnvelope wraps every message written to clients
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// clientInfo holds one connected client
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	names       map[string]struct{} // nil receives every event
	lastPong    atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMu     sync.Mutex // gorilla connections allow one concurrent writer
}

func (c *clientInfo) wants(name string) bool {
	if c.names == nil {
		return true
	}
	_, ok := c.names[name]
	return ok
}

// Option configures a Sink
type Option func(*Sink)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Sink) {
		s.metrics = newServerMetrics(registry)
	}
}

// Sink serves a WebSocket endpoint and broadcasts every emitted event to
// the connected clients. Clients may pass ?names=A,B to receive only those
// events.
type Sink struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *serverMetrics
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex
	clientWg  sync.WaitGroup

	server      *http.Server
	listener    net.Listener
	shutdown    chan struct{}
	wg          sync.WaitGroup
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	eventsSent int64
	bytesSent  int64
	errors     int64
}

// New creates a broadcast sink. The listener is opened by Start; Handler
// can be mounted on another server instead.
func New(cfg Config, opts ...Option) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "websocket.Sink", "New", "validate config")
	}

	s := &Sink{
		cfg:     cfg,
		logger:  slog.Default(),
		clients: make(map[*websocket.Conn]*clientInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "websocket-sink")

	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s, nil
}

// Name identifies the sink in logs and metrics
func (s *Sink) Name() string {
	return "websocket"
}

func (s *Sink) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler that upgrades connections on the
// configured path
func (s *Sink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves the endpoint
func (s *Sink) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "websocket.Sink", "Start", "context already cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "websocket.Sink", "Start", "check running state")
	}

	tlsConfig, err := tlsutil.LoadServerConfig(s.cfg.TLS)
	if err != nil {
		return errors.WrapFatal(err, "websocket.Sink", "Start", "load TLS config")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "websocket.Sink", "Start", "listen on "+s.cfg.Addr)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = ln
	s.shutdown = make(chan struct{})
	s.running = true
	s.startTime = time.Now()

	s.wg.Add(2)
	go s.runServer(s.server, ln, tlsConfig != nil)
	go s.maintainClients(s.shutdown)

	s.logger.Info("WebSocket sink started", "addr", ln.Addr().String(), "path", s.cfg.Path, "tls", tlsConfig != nil)
	return nil
}

// Addr returns the bound listener address, or "" when not started
func (s *Sink) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Sink) runServer(server *http.Server, ln net.Listener, tlsEnabled bool) {
	defer s.wg.Done()

	var err error
	if tlsEnabled {
		err = server.ServeTLS(ln, "", "")
	} else {
		err = server.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		atomic.AddInt64(&s.errors, 1)
		s.metrics.recordError("server")
		s.logger.Error("HTTP server failed", "error", err)
	}
}

// Stop shuts the server down and closes every client
func (s *Sink) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	server := s.server
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var shutdownErr error
	if err := server.Shutdown(ctx); err != nil {
		shutdownErr = errors.WrapTransient(err, "websocket.Sink", "Stop", "shutdown HTTP server")
	}

	// hijacked connections are not closed by Shutdown
	s.closeAllClients()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.clientWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("WebSocket goroutines did not exit within timeout")
	}

	s.mu.Lock()
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	return shutdownErr
}

// handleWebSocket upgrades a new client connection
func (s *Sink) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.metrics.recordError("connection_upgrade")
		return
	}

	info := &clientInfo{
		conn:        conn,
		connectedAt: time.Now(),
		names:       parseNames(r.URL.Query().Get("names")),
	}
	info.lastPong.Store(time.Now().UnixNano())

	s.clientsMu.Lock()
	s.clients[conn] = info
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.recordConnect(count)
	s.logger.Debug("Client connected", "remote", r.RemoteAddr, "clients", count)

	s.clientWg.Add(1)
	go s.handleClient(info)
}

func parseNames(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	names := make(map[string]struct{})
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names[name] = struct{}{}
		}
	}
	if len(names) == 0 {
		return nil
	}
	return names
}

// handleClient reads until the client goes away. Inbound messages are ignored.
func (s *Sink) handleClient(info *clientInfo) {
	defer s.clientWg.Done()
	defer s.removeClient(info, "normal")

	readTimeout := 2 * s.cfg.PingInterval
	info.conn.SetPongHandler(func(string) error {
		info.lastPong.Store(time.Now().UnixNano())
		return info.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_ = info.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, _, err := info.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// removeClient closes and forgets a client once
func (s *Sink) removeClient(info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		s.clientsMu.Lock()
		delete(s.clients, info.conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		s.metrics.recordDisconnect(reason, count)
		_ = info.conn.Close()
	})
}

func (s *Sink) closeAllClients() {
	for _, info := range s.snapshot() {
		_ = s.write(info, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		s.removeClient(info, "shutdown")
	}
}

// Clients returns the number of connected clients
func (s *Sink) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Sink) snapshot() []*clientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	list := make([]*clientInfo, 0, len(s.clients))
	for _, info := range s.clients {
		if !info.closed.Load() {
			list = append(list, info)
		}
	}
	return list
}

// Publish broadcasts one event to every interested client. Clients that
// fail to accept the write are disconnected.
func (s *Sink) Publish(ctx context.Context, event engine.EmittedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.metrics.recordError("marshal")
		return errors.WrapInvalid(err, "websocket.Sink", "Publish", "encode event")
	}

	data, err := json.Marshal(MessageEnvelope{
		Type:      "event",
		ID:        event.ID,
		Timestamp: timestamp.ToUnixMs(event.Timestamp),
		Payload:   payload,
	})
	if err != nil {
		return errors.WrapInvalid(err, "websocket.Sink", "Publish", "encode envelope")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(maxParallelWrites)
	for _, info := range s.snapshot() {
		if !info.wants(event.Name) {
			continue
		}
		g.Go(func() error {
			if err := s.write(info, websocket.TextMessage, data); err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.metrics.recordError("client_send")
				s.removeClient(info, "send_error")
				return nil
			}
			atomic.AddInt64(&s.eventsSent, 1)
			atomic.AddInt64(&s.bytesSent, int64(len(data)))
			s.metrics.recordSent(len(data))
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.recordBroadcast(time.Since(start).Seconds())
	return nil
}

func (s *Sink) write(info *clientInfo, messageType int, data []byte) error {
	info.writeMu.Lock()
	defer info.writeMu.Unlock()
	_ = info.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return info.conn.WriteMessage(messageType, data)
}

// maintainClients pings clients so dead connections hit their read deadline
func (s *Sink) maintainClients(shutdown <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			for _, info := range s.snapshot() {
				if err := s.write(info, websocket.PingMessage, nil); err != nil {
					atomic.AddInt64(&s.errors, 1)
					s.removeClient(info, "ping_failed")
				}
			}
		}
	}
}

// Stats returns events and bytes written to clients
func (s *Sink) Stats() (events, bytes int64) {
	return atomic.LoadInt64(&s.eventsSent), atomic.LoadInt64(&s.bytesSent)
}

// Health reports the server state and client count
func (s *Sink) Health() health.Status {
	s.mu.RLock()
	running := s.running
	startTime := s.startTime
	s.mu.RUnlock()

	metrics := &health.Metrics{
		ErrorCount: int(atomic.LoadInt64(&s.errors)),
		Processed:  atomic.LoadInt64(&s.eventsSent),
	}
	if !running {
		return health.NewUnhealthy("websocket-sink", "not started").WithMetrics(metrics)
	}
	metrics.Uptime = time.Since(startTime)
	return health.NewHealthy("websocket-sink", fmt.Sprintf("%d clients connected", s.Clients())).WithMetrics(metrics)
}
