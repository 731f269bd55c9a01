package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/paramstream/metric"
	"github.com/c360/paramstream/pkg/tlsutil"
)

// ClientOption configures a Client. NewClient rejects the client when an
// option returns an error.
type ClientOption func(*Client) error

// Connection

// WithName sets the connection name shown in the server's monitoring
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithTimeout bounds the initial dial. Zero keeps the default.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("timeout cannot be negative, got %v", d)
		}
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

// WithMaxReconnects limits reconnect attempts after a drop. -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts. Zero keeps the default.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("reconnect wait cannot be negative, got %v", d)
		}
		if d > 0 {
			c.reconnectWait = d
		}
		return nil
	}
}

// Authentication

// WithCredentials authenticates with a username and password
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken authenticates with a token
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS secures the connection. A zero config leaves the connection plain.
func WithTLS(cfg tlsutil.ClientConfig) ClientOption {
	return func(c *Client) error {
		if cfg.IsZero() {
			return nil
		}
		tlsConfig, err := tlsutil.LoadClientConfig(cfg)
		if err != nil {
			return fmt.Errorf("load TLS config: %w", err)
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

// Circuit breaker

// WithCircuitBreakerThreshold sets how many consecutive failed connects open the circuit
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			return fmt.Errorf("circuit breaker threshold must be positive, got %d", threshold)
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps how long an open circuit waits before the next attempt
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			return fmt.Errorf("max backoff must be at least 1s, got %v", d)
		}
		c.maxBackoff = d
		return nil
	}
}

// Observability

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics registers connection and publish metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		c.metrics = newClientMetrics(registry)
		return nil
	}
}
