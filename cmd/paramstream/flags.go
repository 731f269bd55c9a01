package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
}

// configLayers collects repeated -config flags. The first explicit flag
// replaces the environment default.
type configLayers struct {
	paths    *[]string
	explicit bool
}

func (c *configLayers) String() string {
	if c.paths == nil {
		return ""
	}
	return strings.Join(*c.paths, ",")
}

func (c *configLayers) Set(value string) error {
	if !c.explicit {
		*c.paths = nil
		c.explicit = true
	}
	*c.paths = append(*c.paths, value)
	return nil
}

func parseFlags() *CLIConfig {
	return parseFlagSet(flag.CommandLine, os.Args[1:])
}

func parseFlagSet(fs *flag.FlagSet, args []string) *CLIConfig {
	cfg := &CLIConfig{
		ConfigPaths: splitPaths(getEnv("PARAMSTREAM_CONFIG", "")),
	}

	layers := &configLayers{paths: &cfg.ConfigPaths}
	fs.Var(layers, "config",
		"Path to a configuration file, repeat to layer files (env: PARAMSTREAM_CONFIG, comma separated)")
	fs.Var(layers, "c",
		"Path to a configuration file, repeat to layer files (env: PARAMSTREAM_CONFIG, comma separated)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("PARAMSTREAM_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides the config file (env: PARAMSTREAM_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("PARAMSTREAM_LOG_FORMAT", ""),
		"Log format: json, text; overrides the config file (env: PARAMSTREAM_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("PARAMSTREAM_DEBUG", false),
		"Enable debug logging and engine debug traces (env: PARAMSTREAM_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("PARAMSTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: PARAMSTREAM_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and definition files, then exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the merged configuration with secrets redacted, then exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	// flag.ExitOnError handles parse failures for the command line set
	_ = fs.Parse(args)

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(fs.Output(), `%s - telemetry parameter aggregation

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(fs.Output(), `
Examples:
  # Run with a base config and a site overlay
  %s --config=configs/base.json --config=/etc/paramstream/site.json

  # Run with debug logging
  %s --config=configs/base.json --log-level=debug --log-format=text

  # Run with environment variables
  export PARAMSTREAM_CONFIG=/etc/paramstream/config.json
  export PARAMSTREAM_INGEST_HOST=192.168.1.10
  %s

  # Validate configuration and definition files only
  %s --config=configs/base.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
