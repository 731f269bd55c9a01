package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
	"github.com/c360/paramstream/health"
	"github.com/c360/paramstream/pkg/retry"
	"github.com/c360/paramstream/pkg/tlsutil"
)

// Config holds configuration for the HTTP POST sink
type Config struct {
	URL         string               `json:"url"`
	Headers     map[string]string    `json:"headers,omitempty"`
	Timeout     time.Duration        `json:"timeout"`
	RetryCount  int                  `json:"retry_count"`
	RetryDelay  time.Duration        `json:"retry_delay"`
	ContentType string               `json:"content_type"`
	TLS         tlsutil.ClientConfig `json:"tls,omitempty"`

	// RateLimit caps requests per second, retries included. 0 disables it.
	RateLimit float64 `json:"rate_limit,omitempty"`
	Burst     int     `json:"burst,omitempty"`
}

// DefaultConfig returns default configuration for the HTTP POST sink
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Headers:     make(map[string]string),
		Timeout:     30 * time.Second,
		RetryCount:  3,
		RetryDelay:  100 * time.Millisecond,
		ContentType: "application/json",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}

	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}

	if c.RetryDelay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_delay cannot be negative")
	}

	if c.RateLimit < 0 || c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit and burst cannot be negative")
	}

	return nil
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

// WithHTTPClient replaces the HTTP client built from Config
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sink) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// Sink posts each emitted event as JSON to a webhook. Failed requests are
// retried with exponential backoff; 4xx responses are not retried.
type Sink struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	limiter    *rate.Limiter // nil when unlimited
	startTime  time.Time

	sent    atomic.Int64
	retried atomic.Int64
	failed  atomic.Int64
	lastErr atomic.Value // string
}

// New creates an HTTP POST sink
func New(cfg Config, opts ...Option) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "httppost.Sink", "New", "validate config")
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}

	s := &Sink{
		cfg:       cfg,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "httppost-sink")

	if s.httpClient == nil {
		client := &http.Client{Timeout: cfg.Timeout}
		if !cfg.TLS.IsZero() {
			tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
			if err != nil {
				return nil, errors.WrapFatal(err, "httppost.Sink", "New", "load TLS config")
			}
			client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		}
		s.httpClient = client
	}

	return s, nil
}

// Name identifies the sink in logs and metrics
func (s *Sink) Name() string {
	return "httppost"
}

// Publish posts one event, retrying transient failures
func (s *Sink) Publish(ctx context.Context, event engine.EmittedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		return errors.WrapInvalid(err, "httppost.Sink", "Publish", "encode event")
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = s.cfg.RetryCount + 1
	if s.cfg.RetryDelay > 0 {
		cfg.InitialDelay = s.cfg.RetryDelay
		if cfg.MaxDelay < cfg.InitialDelay {
			cfg.MaxDelay = cfg.InitialDelay
		}
	}
	cfg.OnRetry = func(attempt int, err error) {
		s.retried.Add(1)
		s.logger.Debug("Retrying webhook post", "event", event.Name, "attempt", attempt, "error", err)
	}

	if err := retry.Do(ctx, cfg, func() error { return s.post(ctx, data) }); err != nil {
		s.failed.Add(1)
		s.lastErr.Store(err.Error())
		if retry.IsNonRetryable(err) {
			return errors.WrapInvalid(err, "httppost.Sink", "Publish", "post event")
		}
		return errors.WrapTransient(err, "httppost.Sink", "Publish", "post event")
	}

	s.sent.Add(1)
	return nil
}

// post sends a single request. Client errors are marked non-retryable.
func (s *Sink) post(ctx context.Context, data []byte) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}

	req.Header.Set("Content-Type", s.cfg.ContentType)
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %s", resp.Status)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.NonRetryable(fmt.Errorf("HTTP %s", resp.Status))
	default:
		return fmt.Errorf("HTTP %s", resp.Status)
	}
}

// Stats returns delivered, retried and failed counts
func (s *Sink) Stats() (sent, retried, failed int64) {
	return s.sent.Load(), s.retried.Load(), s.failed.Load()
}

// Health reports degraded once any event failed delivery
func (s *Sink) Health() health.Status {
	metrics := &health.Metrics{
		Uptime:     time.Since(s.startTime),
		ErrorCount: int(s.failed.Load()),
		Processed:  s.sent.Load(),
	}
	if s.failed.Load() > 0 {
		msg := "delivery failures occurred"
		if last, ok := s.lastErr.Load().(string); ok {
			msg = health.Sanitize(last)
		}
		return health.NewDegraded("httppost-sink", msg).WithMetrics(metrics)
	}
	return health.NewHealthy("httppost-sink", "ok").WithMetrics(metrics)
}
