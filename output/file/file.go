package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/health"
)

// Supported formats
const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

// Config holds configuration for the file sink
type Config struct {
	Directory     string        `json:"directory"`
	FilePrefix    string        `json:"file_prefix"`
	Format        string        `json:"format"`
	Append        bool          `json:"append"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultConfig returns the default file sink configuration
func DefaultConfig() Config {
	return Config{
		Directory:     "/tmp/paramstream",
		FilePrefix:    "events",
		Format:        FormatJSONL,
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.FilePrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "file_prefix is required")
	}
	if c.Format != FormatJSONL && c.Format != FormatJSON {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unsupported format %q", c.Format))
	}
	if c.BufferSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffer_size must be positive")
	}
	if c.FlushInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "flush_interval must be positive")
	}
	return nil
}

// Path returns the output file path
func (c *Config) Path() string {
	return filepath.Join(c.Directory, fmt.Sprintf("%s.%s", c.FilePrefix, c.Format))
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

// Sink appends emitted events to a file. Events are buffered in memory and
// written when the buffer fills, on every flush interval and on Stop.
type Sink struct {
	cfg    Config
	logger *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	shutdown    chan struct{}
	wg          sync.WaitGroup
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	eventsWritten int64
	bytesWritten  int64
	errors        int64
	lastActivity  atomic.Int64
}

// New creates a file sink. The file is opened by Start.
func New(cfg Config, opts ...Option) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "file.Sink", "New", "validate config")
	}

	s := &Sink{
		cfg:    cfg,
		logger: slog.Default(),
		buffer: make([][]byte, 0, cfg.BufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "file-sink")
	return s, nil
}

// Name identifies the sink in logs and metrics
func (s *Sink) Name() string {
	return "file"
}

// Start opens the output file and begins the flush loop
func (s *Sink) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "file.Sink", "Start", "check running state")
	}

	if err := os.MkdirAll(s.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "file.Sink", "Start", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if s.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(s.cfg.Path(), flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "file.Sink", "Start", "open output file")
	}

	s.fileMu.Lock()
	s.file = f
	s.fileMu.Unlock()

	s.shutdown = make(chan struct{})
	s.wg.Add(1)
	go s.flushLoop()

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("File sink started",
		"path", s.cfg.Path(),
		"format", s.cfg.Format,
		"append", s.cfg.Append,
		"buffer_size", s.cfg.BufferSize)
	return nil
}

// Stop flushes buffered events and closes the file
func (s *Sink) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}

	close(s.shutdown)

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "file.Sink", "Stop", "shutdown")
	}

	s.flush()

	var closeErr error
	s.fileMu.Lock()
	if s.file != nil {
		closeErr = s.file.Close()
		s.file = nil
	}
	s.fileMu.Unlock()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if closeErr != nil {
		return errors.Wrap(closeErr, "file.Sink", "Stop", "close output file")
	}
	return nil
}

// Publish buffers one event. The write happens on the next flush.
func (s *Sink) Publish(ctx context.Context, event engine.EmittedEvent) error {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return errors.WrapTransient(errors.ErrNotStarted, "file.Sink", "Publish", "check running state")
	}

	data, err := s.encode(event)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return errors.WrapInvalid(err, "file.Sink", "Publish", "encode event")
	}

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, data)
	shouldFlush := len(s.buffer) >= s.cfg.BufferSize
	s.bufferMu.Unlock()

	s.lastActivity.Store(time.Now().UnixNano())

	if shouldFlush {
		if err := ctx.Err(); err != nil {
			return nil
		}
		s.flush()
	}
	return nil
}

func (s *Sink) encode(event engine.EmittedEvent) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if s.cfg.Format == FormatJSON {
		data, err = json.MarshalIndent(event, "", "  ")
	} else {
		data, err = json.Marshal(event)
	}
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush writes buffered events to the file
func (s *Sink) flush() {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return
	}
	events := s.buffer
	s.buffer = make([][]byte, 0, s.cfg.BufferSize)
	s.bufferMu.Unlock()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.file == nil {
		atomic.AddInt64(&s.errors, int64(len(events)))
		s.logger.Error("File handle is nil during flush", "events_lost", len(events))
		return
	}

	for _, data := range events {
		n, err := s.file.Write(data)
		if err != nil {
			atomic.AddInt64(&s.errors, 1)
			s.logger.Error("Failed to write event to file", "error", err)
			continue
		}
		atomic.AddInt64(&s.eventsWritten, 1)
		atomic.AddInt64(&s.bytesWritten, int64(n))
	}

	s.logger.Debug("Flush completed",
		"events", len(events),
		"total_written", atomic.LoadInt64(&s.eventsWritten))
}

// Written returns the number of events and bytes written so far
func (s *Sink) Written() (events, bytes int64) {
	return atomic.LoadInt64(&s.eventsWritten), atomic.LoadInt64(&s.bytesWritten)
}

// Health reports whether the file is open and how many writes failed
func (s *Sink) Health() health.Status {
	s.mu.RLock()
	running := s.running
	startTime := s.startTime
	s.mu.RUnlock()

	metrics := &health.Metrics{
		ErrorCount: int(atomic.LoadInt64(&s.errors)),
		Processed:  atomic.LoadInt64(&s.eventsWritten),
	}
	if last := s.lastActivity.Load(); last > 0 {
		metrics.LastActivity = time.Unix(0, last)
	}

	if !running {
		return health.NewUnhealthy("file-sink", "not started").WithMetrics(metrics)
	}
	metrics.Uptime = time.Since(startTime)
	if metrics.ErrorCount > 0 {
		return health.NewDegraded("file-sink", "write errors occurred").WithMetrics(metrics)
	}
	return health.NewHealthy("file-sink", "writing to "+s.cfg.Path()).WithMetrics(metrics)
}
