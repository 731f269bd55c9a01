package ingest

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/paramstream/channel"
	"github.com/c360/paramstream/errors"
)

// Feed paths and channel roles
const (
	PrimaryPath   = "VPCA"
	SecondaryPath = "CHAT"

	PrimaryRole   = "primary"
	SecondaryRole = "secondary"
)

// ChannelConfig selects one feed path. The channel is omitted when Group is empty.
type ChannelConfig struct {
	Group string `json:"group"`
	Path  string `json:"path"`
}

// Config holds configuration for the ingestion layer
type Config struct {
	// Host is the telemetry host, optionally with port ("feed.local:8080")
	Host string `json:"host"`

	// Scheme is "ws" or "wss". Defaults to "ws".
	Scheme string `json:"scheme"`

	// Primary is the write-capable channel
	Primary ChannelConfig `json:"primary"`

	// Secondary is a read-only channel
	Secondary ChannelConfig `json:"secondary"`

	// MaxRate and MinRate are forwarded verbatim into the subscribe request
	MaxRate int `json:"max_rate"`
	MinRate int `json:"min_rate"`

	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`

	// QueueSize bounds each channel's decoded sample buffer
	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns the default ingestion configuration with no groups set
func DefaultConfig() Config {
	return Config{
		Scheme:     "ws",
		Primary:    ChannelConfig{Path: PrimaryPath},
		Secondary:  ChannelConfig{Path: SecondaryPath},
		MaxRetries: channel.DefaultMaxRetries,
		RetryDelay: channel.DefaultRetryDelay,
		QueueSize:  channel.DefaultQueueSize,
	}
}

// Validate checks the configuration. Zero configured groups wraps errors.ErrConfiguration.
func (c Config) Validate() error {
	if c.Primary.Group == "" && c.Secondary.Group == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: provide a primary or secondary group", errors.ErrConfiguration),
			"Ingest", "Validate", "check groups")
	}
	if c.Host == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Ingest", "Validate", "host is required")
	}
	if c.Scheme != "" && c.Scheme != "ws" && c.Scheme != "wss" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unsupported scheme %q", errors.ErrInvalidConfig, c.Scheme),
			"Ingest", "Validate", "check scheme")
	}
	if c.MaxRetries < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max_retries must be >= 0", errors.ErrInvalidConfig),
			"Ingest", "Validate", "check max_retries")
	}
	return nil
}

// channelConfigs expands the layer config into one config per configured channel.
func (c Config) channelConfigs() []channel.Config {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "ws"
	}

	build := func(role string, cc ChannelConfig, defaultPath string) channel.Config {
		path := cc.Path
		if path == "" {
			path = defaultPath
		}
		u := url.URL{Scheme: scheme, Host: c.Host, Path: "/" + path}
		cfg := channel.DefaultConfig(role, u.String(), cc.Group)
		cfg.MaxRate = c.MaxRate
		cfg.MinRate = c.MinRate
		cfg.MaxRetries = c.MaxRetries
		if c.RetryDelay > 0 {
			cfg.RetryDelay = c.RetryDelay
		}
		if c.QueueSize > 0 {
			cfg.QueueSize = c.QueueSize
		}
		return cfg
	}

	var out []channel.Config
	if c.Primary.Group != "" {
		out = append(out, build(PrimaryRole, c.Primary, PrimaryPath))
	}
	if c.Secondary.Group != "" {
		out = append(out, build(SecondaryRole, c.Secondary, SecondaryPath))
	}
	return out
}
