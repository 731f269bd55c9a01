package channel

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/paramstream/errors"
)

// Default connection settings
const (
	DefaultMaxRetries       = 10
	DefaultRetryDelay       = 2 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultQueueSize        = 256
	DefaultSendQueueSize    = 1024
)

// Config holds configuration for one channel
type Config struct {
	// Role names the channel in logs, metrics and samples ("primary", "secondary")
	Role string `json:"role"`

	// URL is the websocket endpoint, e.g. ws://host/VPCA
	URL string `json:"url"`

	// Group is the subscription group id sent in the subscribe request
	Group string `json:"group"`

	MaxRate int `json:"max_rate"`
	MinRate int `json:"min_rate"`

	// MaxRetries is the number of retries after a failed connect attempt.
	// Zero means a single attempt.
	MaxRetries int `json:"max_retries"`

	// RetryDelay is the fixed delay between connect attempts and before
	// reconnecting after a dropped connection
	RetryDelay time.Duration `json:"retry_delay"`

	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// QueueSize bounds the decoded sample buffer
	QueueSize int `json:"queue_size"`

	// SendQueueSize bounds the outbound request queue
	SendQueueSize int `json:"send_queue_size"`
}

// DefaultConfig returns a config with default retry and buffer settings
func DefaultConfig(role, rawURL, group string) Config {
	return Config{
		Role:             role,
		URL:              rawURL,
		Group:            group,
		MaxRetries:       DefaultMaxRetries,
		RetryDelay:       DefaultRetryDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
		QueueSize:        DefaultQueueSize,
		SendQueueSize:    DefaultSendQueueSize,
	}
}

func (c *Config) applyDefaults() {
	if c.Role == "" {
		c.Role = "primary"
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Channel", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Channel", "Validate", "parse url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unsupported scheme %q", errors.ErrInvalidConfig, u.Scheme),
			"Channel", "Validate", "check url scheme")
	}
	if c.Group == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Channel", "Validate", "group is required")
	}
	if c.MaxRetries < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max_retries must be >= 0", errors.ErrInvalidConfig),
			"Channel", "Validate", "check max_retries")
	}
	if c.MaxRate < 0 || c.MinRate < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rates must be >= 0", errors.ErrInvalidConfig),
			"Channel", "Validate", "check rates")
	}
	return nil
}
