package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/paramstream/config"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("paramstream", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlagSet_Defaults(t *testing.T) {
	t.Setenv("PARAMSTREAM_CONFIG", "")
	cfg := parseFlagSet(newFlagSet(), nil)

	assert.Empty(t, cfg.ConfigPaths)
	assert.Empty(t, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Validate)
}

func TestParseFlagSet_ConfigLayers(t *testing.T) {
	t.Setenv("PARAMSTREAM_CONFIG", "env-a.json,env-b.json")

	cfg := parseFlagSet(newFlagSet(), nil)
	assert.Equal(t, []string{"env-a.json", "env-b.json"}, cfg.ConfigPaths)

	// explicit flags replace the environment list
	cfg = parseFlagSet(newFlagSet(), []string{"-config", "base.json", "-c", "site.json"})
	assert.Equal(t, []string{"base.json", "site.json"}, cfg.ConfigPaths)
}

func TestParseFlagSet_DebugForcesLevel(t *testing.T) {
	cfg := parseFlagSet(newFlagSet(), []string{"-log-level", "warn", "-debug"})
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Debug)
}

func TestParseFlagSet_EnvFallback(t *testing.T) {
	t.Setenv("PARAMSTREAM_LOG_FORMAT", "text")
	t.Setenv("PARAMSTREAM_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("PARAMSTREAM_DEBUG", "not-a-bool")

	cfg := parseFlagSet(newFlagSet(), nil)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Debug)
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))

	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{"valid", CLIConfig{ConfigPaths: []string{existing}, ShutdownTimeout: time.Second}, false},
		{"no config files", CLIConfig{ShutdownTimeout: time.Second}, false},
		{"missing file", CLIConfig{ConfigPaths: []string{"/nonexistent.json"}, ShutdownTimeout: time.Second}, true},
		{"bad level", CLIConfig{LogLevel: "trace", ShutdownTimeout: time.Second}, true},
		{"bad format", CLIConfig{LogFormat: "xml", ShutdownTimeout: time.Second}, true},
		{"zero timeout", CLIConfig{}, true},
		{"version skips checks", CLIConfig{ShowVersion: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyCLIOverrides(t *testing.T) {
	cfg := config.Default()
	applyCLIOverrides(cfg, &CLIConfig{LogLevel: "debug", LogFormat: "text", Debug: true})

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "text", cfg.Service.LogFormat)
	assert.True(t, cfg.Engine.Debug)

	cfg = config.Default()
	applyCLIOverrides(cfg, &CLIConfig{})
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, "json", cfg.Service.LogFormat)
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "paramstream", "info", "json")

	logger.Debug("hidden")
	logger.Info("visible", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "paramstream", entry["service"])
	assert.Equal(t, Version, entry["version"])
	assert.Equal(t, "value", entry["key"])
}

func TestSetupLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "paramstream", "warn", "text")

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "service=paramstream")
	// buffers are not terminals, so no color codes
	assert.NotContains(t, out, "\x1b[")
}
