package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLayer(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Ingest.Host = "feed.local:8080"
	cfg.Ingest.Primary.Group = "g1"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "paramstream", cfg.Service.Name)
	assert.Equal(t, LogFormatJSON, cfg.Service.LogFormat)
	assert.Equal(t, "ws", cfg.Ingest.Scheme)
	assert.True(t, cfg.Catalog.Watch)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL())
	assert.Empty(t, cfg.EnabledOutputs())
	assert.Equal(t, 9090, cfg.Metrics.Port)

	// no groups configured
	assert.Error(t, cfg.Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestLoader_LayersMerge(t *testing.T) {
	dir := t.TempDir()
	base := writeLayer(t, dir, "base.json", `{
		"service": {"log_level": "debug"},
		"ingest": {"host": "feed.local:8080", "primary": {"group": "g1"}, "retry_delay": "250ms"},
		"catalog": {"files": ["defs.yaml"], "debounce": "1s"},
		"nats": {"enabled": true, "urls": ["nats://a:4222", "nats://b:4222"], "reconnect_wait": "5s"}
	}`)
	override := writeLayer(t, dir, "prod.json", `{
		"service": {"log_format": "text"},
		"ingest": {"secondary": {"group": "g2"}},
		"outputs": {
			"file": {"enabled": true, "directory": "/var/lib/paramstream", "flush_interval": "2s"},
			"nats": {"enabled": true, "jetstream": true, "max_age": "7d"}
		}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, LogFormatText, cfg.Service.LogFormat)
	assert.Equal(t, "paramstream", cfg.Service.Name)

	assert.Equal(t, "feed.local:8080", cfg.Ingest.Host)
	assert.Equal(t, "g1", cfg.Ingest.Primary.Group)
	assert.Equal(t, "g2", cfg.Ingest.Secondary.Group)
	assert.Equal(t, "VPCA", cfg.Ingest.Primary.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.RetryDelay)

	assert.Equal(t, []string{"defs.yaml"}, cfg.Catalog.Files)
	assert.Equal(t, time.Second, cfg.Catalog.Debounce)
	assert.True(t, cfg.Catalog.Watch)

	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.NATS.URL())
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)

	assert.True(t, cfg.Outputs.File.Enabled)
	assert.Equal(t, "/var/lib/paramstream", cfg.Outputs.File.Directory)
	assert.Equal(t, "events", cfg.Outputs.File.FilePrefix)
	assert.Equal(t, 2*time.Second, cfg.Outputs.File.FlushInterval)
	assert.True(t, cfg.Outputs.NATS.JetStream)
	assert.Equal(t, 7*24*time.Hour, cfg.Outputs.NATS.MaxAge)
	assert.Equal(t, []string{"file", "nats"}, cfg.EnabledOutputs())
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("PARAMSTREAM_INGEST_HOST", "env-host:9000")
	t.Setenv("PARAMSTREAM_INGEST_PRIMARY_GROUP", "env-group")
	t.Setenv("PARAMSTREAM_CATALOG_FILES", "a.yaml, b.json,")
	t.Setenv("PARAMSTREAM_NATS_URLS", "nats://x:4222")
	t.Setenv("PARAMSTREAM_NATS_TOKEN", "secret")
	t.Setenv("PARAMSTREAM_METRICS_PORT", "9191")
	t.Setenv("PARAMSTREAM_LOG_LEVEL", "warn")

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "env-host:9000", cfg.Ingest.Host)
	assert.Equal(t, "env-group", cfg.Ingest.Primary.Group)
	assert.Equal(t, []string{"a.yaml", "b.json"}, cfg.Catalog.Files)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://x:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "secret", cfg.NATS.Token)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "warn", cfg.Service.LogLevel)
}

func TestLoader_EnvOverrideErrors(t *testing.T) {
	t.Setenv("PARAMSTREAM_METRICS_PORT", "not-a-port")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("K", ""))
	assert.NoError(t, validateEnvVar("K", "value"))
	assert.NoError(t, validateEnvVar("K", "tab\tseparated"))
	assert.Error(t, validateEnvVar("K", "bad\x00value"))
	assert.Error(t, validateEnvVar("K", "line\nbreak"))
	assert.Error(t, validateEnvVar("K", strings.Repeat("x", maxEnvVarLen+1)))
}

func TestValidateConfigPath(t *testing.T) {
	assert.NoError(t, validateConfigPath("configs/base.json"))
	assert.NoError(t, validateConfigPath("/etc/paramstream/site.JSON"))
	assert.ErrorIs(t, validateConfigPath(""), errUnsafeInput)
	assert.ErrorIs(t, validateConfigPath("../outside.json"), errUnsafeInput)
	assert.ErrorIs(t, validateConfigPath("configs/base.yaml"), errUnsafeInput)
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "[[["}]}`)))
	assert.ErrorIs(t, validateJSONDepth([]byte(strings.Repeat("[", 101)+strings.Repeat("]", 101))), errUnsafeInput)
	assert.Error(t, validateJSONDepth([]byte(`{"a": [}`)))
}

func TestLoader_FileErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.json")},
		{"wrong extension", writeLayer(t, dir, "config.yaml", `{}`)},
		{"malformed JSON", writeLayer(t, dir, "bad.json", `{"service": `)},
		{"too deep", writeLayer(t, dir, "deep.json", strings.Repeat("[", 101)+strings.Repeat("]", 101))},
		{"bad duration", writeLayer(t, dir, "dur.json", `{"catalog": {"debounce": "soon"}}`)},
		{"type mismatch", writeLayer(t, dir, "type.json", `{"metrics": {"port": "ninety"}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Service.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.Service.LogFormat = "xml" }},
		{"no ingest host", func(c *Config) { c.Ingest.Host = "" }},
		{"negative engine size", func(c *Config) { c.Engine.SinkWorkers = -1 }},
		{"negative debounce", func(c *Config) { c.Catalog.Debounce = -time.Second }},
		{"empty catalog file", func(c *Config) { c.Catalog.Files = []string{""} }},
		{"nats without urls", func(c *Config) { c.NATS.Enabled = true; c.NATS.URLs = nil }},
		{"nats output without nats", func(c *Config) { c.Outputs.NATS.Enabled = true }},
		{"invalid file output", func(c *Config) { c.Outputs.File.Enabled = true; c.Outputs.File.Format = "csv" }},
		{"invalid httppost output", func(c *Config) { c.Outputs.HTTPPost.Enabled = true; c.Outputs.HTTPPost.URL = "" }},
		{"websocket TLS without files", func(c *Config) {
			c.Outputs.WebSocket.Enabled = true
			c.Outputs.WebSocket.TLS.Enabled = true
		}},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := validConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 0
	assert.NoError(t, cfg.Validate())
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "tok"
	cfg.Outputs.HTTPPost.Headers = map[string]string{"Authorization": "Bearer abc"}

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "Bearer abc")
	assert.Contains(t, out, `"Authorization": "***"`)

	// the original is untouched
	assert.Equal(t, "hunter2", cfg.NATS.Password)
	assert.Equal(t, "Bearer abc", cfg.Outputs.HTTPPost.Headers["Authorization"])
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("14d")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	d, err = parseDurationWithDays("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{"a": map[string]any{"x": 1.0, "y": 2.0}, "b": "keep"}
	override := map[string]any{"a": map[string]any{"y": 3.0}, "c": nil}

	merged := deepMergeMaps(base, override)
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1.0, "y": 3.0}, "b": "keep"}, merged)
}
