package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/paramstream/ingest"
	"github.com/c360/paramstream/output/file"
	"github.com/c360/paramstream/output/httppost"
	"github.com/c360/paramstream/output/natssink"
	"github.com/c360/paramstream/output/websocket"
	"github.com/c360/paramstream/pkg/tlsutil"
)

// Log settings
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the complete application configuration
type Config struct {
	Service ServiceConfig `json:"service"`
	Ingest  ingest.Config `json:"ingest"`
	Engine  EngineConfig  `json:"engine"`
	Catalog CatalogConfig `json:"catalog"`
	NATS    NATSConfig    `json:"nats"`
	Outputs OutputsConfig `json:"outputs"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServiceConfig holds process identity and logging
type ServiceConfig struct {
	Name      string `json:"name"`
	LogLevel  string `json:"log_level"`  // debug, info, warn, error
	LogFormat string `json:"log_format"` // json or text
}

// EngineConfig tunes the aggregation engine
type EngineConfig struct {
	LaneQueueSize int  `json:"lane_queue_size"`
	SampleBuffer  int  `json:"sample_buffer"`
	SinkWorkers   int  `json:"sink_workers"`
	Debug         bool `json:"debug"`
}

// CatalogConfig lists definition files and whether to watch them
type CatalogConfig struct {
	Files    []string      `json:"files"`
	Watch    bool          `json:"watch"`
	Debounce time.Duration `json:"debounce"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	Name          string        `json:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls,omitempty"`
}

// URL joins the configured server URLs the way nats.Connect accepts them
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// OutputsConfig enables the event sinks
type OutputsConfig struct {
	File      FileOutput      `json:"file"`
	HTTPPost  HTTPPostOutput  `json:"httppost"`
	WebSocket WebSocketOutput `json:"websocket"`
	NATS      NATSOutput      `json:"nats"`
}

// FileOutput enables the file sink
type FileOutput struct {
	Enabled bool `json:"enabled"`
	file.Config
}

// HTTPPostOutput enables the webhook sink
type HTTPPostOutput struct {
	Enabled bool `json:"enabled"`
	httppost.Config
}

// WebSocketOutput enables the broadcast sink
type WebSocketOutput struct {
	Enabled bool `json:"enabled"`
	websocket.Config
}

// NATSOutput enables the NATS sink
type NATSOutput struct {
	Enabled bool `json:"enabled"`
	natssink.Config
}

// MetricsConfig controls the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Default returns the configuration used before any layer is applied
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "paramstream",
			LogLevel:  "info",
			LogFormat: LogFormatJSON,
		},
		Ingest: ingest.DefaultConfig(),
		Engine: EngineConfig{
			LaneQueueSize: 64,
			SampleBuffer:  256,
			SinkWorkers:   4,
		},
		Catalog: CatalogConfig{
			Watch:    true,
			Debounce: 200 * time.Millisecond,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Outputs: OutputsConfig{
			File:      FileOutput{Config: file.DefaultConfig()},
			HTTPPost:  HTTPPostOutput{Config: httppost.DefaultConfig()},
			WebSocket: WebSocketOutput{Config: websocket.DefaultConfig()},
			NATS:      NATSOutput{Config: natssink.DefaultConfig()},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Service.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("service.log_level %q must be debug, info, warn or error", c.Service.LogLevel)
	}
	if c.Service.LogFormat != LogFormatJSON && c.Service.LogFormat != LogFormatText {
		return fmt.Errorf("service.log_format %q must be json or text", c.Service.LogFormat)
	}

	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if c.Engine.LaneQueueSize < 0 || c.Engine.SampleBuffer < 0 || c.Engine.SinkWorkers < 0 {
		return errors.New("engine sizes cannot be negative")
	}

	if c.Catalog.Debounce < 0 {
		return errors.New("catalog.debounce cannot be negative")
	}
	for i, f := range c.Catalog.Files {
		if f == "" {
			return fmt.Errorf("catalog.files[%d] is empty", i)
		}
	}

	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required when nats is enabled")
	}

	if err := c.validateOutputs(); err != nil {
		return fmt.Errorf("outputs: %w", err)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}

	return nil
}

func (c *Config) validateOutputs() error {
	o := c.Outputs
	if o.File.Enabled {
		if err := o.File.Validate(); err != nil {
			return fmt.Errorf("file: %w", err)
		}
	}
	if o.HTTPPost.Enabled {
		if err := o.HTTPPost.Validate(); err != nil {
			return fmt.Errorf("httppost: %w", err)
		}
	}
	if o.WebSocket.Enabled {
		if err := o.WebSocket.Validate(); err != nil {
			return fmt.Errorf("websocket: %w", err)
		}
		if err := validateServerTLS(o.WebSocket.TLS.Enabled, o.WebSocket.TLS.CertFile, o.WebSocket.TLS.KeyFile); err != nil {
			return fmt.Errorf("websocket.tls: %w", err)
		}
	}
	if o.NATS.Enabled {
		if !c.NATS.Enabled {
			return errors.New("nats output requires nats.enabled")
		}
		if err := o.NATS.Validate(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}
	return nil
}

func validateServerTLS(enabled bool, certFile, keyFile string) error {
	if !enabled {
		return nil
	}
	if certFile == "" || keyFile == "" {
		return errors.New("cert_file and key_file are required when TLS is enabled")
	}
	if _, err := os.Stat(certFile); err != nil {
		return fmt.Errorf("cert_file: %w", err)
	}
	if _, err := os.Stat(keyFile); err != nil {
		return fmt.Errorf("key_file: %w", err)
	}
	return nil
}

// EnabledOutputs lists the names of enabled sinks
func (c *Config) EnabledOutputs() []string {
	var names []string
	if c.Outputs.File.Enabled {
		names = append(names, "file")
	}
	if c.Outputs.HTTPPost.Enabled {
		names = append(names, "httppost")
	}
	if c.Outputs.WebSocket.Enabled {
		names = append(names, "websocket")
	}
	if c.Outputs.NATS.Enabled {
		names = append(names, "nats")
	}
	return names
}

// String returns an indented JSON representation with secrets redacted
func (c *Config) String() string {
	redacted := *c
	redacted.NATS.Password = redact(c.NATS.Password)
	redacted.NATS.Token = redact(c.NATS.Token)
	if len(c.Outputs.HTTPPost.Headers) > 0 {
		headers := make(map[string]string, len(c.Outputs.HTTPPost.Headers))
		for k := range c.Outputs.HTTPPost.Headers {
			headers[k] = "***"
		}
		redacted.Outputs.HTTPPost.Headers = headers
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "PARAMSTREAM",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	if err := parseDurations(rawConfig); err != nil {
		return nil, err
	}
	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// durationKeys are the field names holding time.Duration values anywhere in
// the document
var durationKeys = map[string]bool{
	"retry_delay":       true,
	"handshake_timeout": true,
	"reconnect_wait":    true,
	"timeout":           true,
	"debounce":          true,
	"flush_interval":    true,
	"write_timeout":     true,
	"ping_interval":     true,
	"max_age":           true,
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for key, value := range data {
		switch v := value.(type) {
		case map[string]any:
			if err := parseDurations(v); err != nil {
				return err
			}
		case string:
			if !durationKeys[key] {
				continue
			}
			d, err := parseDurationWithDays(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			data[key] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(suffix string) (string, error) {
		key := l.envPrefix + "_" + suffix
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", err
		}
		return val, nil
	}

	overrides := []struct {
		suffix string
		apply  func(string) error
	}{
		{"LOG_LEVEL", func(v string) error { cfg.Service.LogLevel = v; return nil }},
		{"LOG_FORMAT", func(v string) error { cfg.Service.LogFormat = v; return nil }},
		{"INGEST_HOST", func(v string) error { cfg.Ingest.Host = v; return nil }},
		{"INGEST_PRIMARY_GROUP", func(v string) error { cfg.Ingest.Primary.Group = v; return nil }},
		{"INGEST_SECONDARY_GROUP", func(v string) error { cfg.Ingest.Secondary.Group = v; return nil }},
		{"CATALOG_FILES", func(v string) error { cfg.Catalog.Files = splitList(v); return nil }},
		{"NATS_URLS", func(v string) error {
			cfg.NATS.URLs = splitList(v)
			cfg.NATS.Enabled = true
			return nil
		}},
		{"NATS_USERNAME", func(v string) error { cfg.NATS.Username = v; return nil }},
		{"NATS_PASSWORD", func(v string) error { cfg.NATS.Password = v; return nil }},
		{"NATS_TOKEN", func(v string) error { cfg.NATS.Token = v; return nil }},
		{"METRICS_PORT", func(v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
			}
			cfg.Metrics.Port = port
			return nil
		}},
	}

	for _, o := range overrides {
		val, err := get(o.suffix)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		if err := o.apply(val); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
