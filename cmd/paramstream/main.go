// Package main implements the paramstream entry point. It connects to a
// telemetry feed, evaluates the configured event definitions against the
// incoming samples and publishes emitted events to the enabled outputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/paramstream/catalog"
	"github.com/c360/paramstream/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "paramstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Service.Name, cfg.Service.LogLevel, cfg.Service.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.PrintConfig {
		fmt.Println(cfg.String())
		return nil
	}

	if cliCfg.Validate {
		if err := validateCatalog(cfg); err != nil {
			return err
		}
		slog.Info("Configuration is valid",
			"catalog_files", len(cfg.Catalog.Files),
			"outputs", cfg.EnabledOutputs())
		return nil
	}

	slog.Info("Starting paramstream",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths,
		"ingest_host", cfg.Ingest.Host,
		"outputs", cfg.EnabledOutputs())

	ctx := context.Background()
	a, err := newApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble application: %w", err)
	}

	return runWithSignalHandling(ctx, a, cliCfg)
}

// initializeCLI parses flags and handles version and help
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(flag.CommandLine)
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// initializeConfiguration merges the config layers, applies flag overrides
// and validates the result
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range cliCfg.ConfigPaths {
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyCLIOverrides(cfg, cliCfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyCLIOverrides lets flags win over every config layer
func applyCLIOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.LogLevel != "" {
		cfg.Service.LogLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Service.LogFormat = cliCfg.LogFormat
	}
	if cliCfg.Debug {
		cfg.Engine.Debug = true
	}
}

// validateCatalog parses and compiles every definition file without
// touching the feed
func validateCatalog(cfg *config.Config) error {
	if len(cfg.Catalog.Files) == 0 {
		return nil
	}
	specs, err := catalog.ReadFiles(cfg.Catalog.Files)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if _, err := catalog.CompileAll(specs); err != nil {
		return fmt.Errorf("compile catalog: %w", err)
	}
	return nil
}

// runWithSignalHandling starts the application and waits for a shutdown
// signal or for the feed to terminate
func runWithSignalHandling(ctx context.Context, a *app, cliCfg *CLIConfig) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := a.start(signalCtx); err != nil {
		if stopErr := a.stop(cliCfg.ShutdownTimeout); stopErr != nil {
			slog.Error("Cleanup after failed start", "error", stopErr)
		}
		return fmt.Errorf("start: %w", err)
	}
	slog.Info("paramstream started")

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case <-a.ingest.Done():
		slog.Warn("Telemetry feed terminated, shutting down")
	case err := <-a.fatal:
		slog.Error("Background service failed, shutting down", "error", err)
	}

	if err := a.stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("paramstream shutdown complete")
	return nil
}
