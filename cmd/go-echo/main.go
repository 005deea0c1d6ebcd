// go-echo: acoustic sensing daemon
// Listens to a microphone and narrates sounds, their direction and nearby obstacles
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-echo/internal/capture"
	"github.com/teslashibe/go-echo/internal/config"
	"github.com/teslashibe/go-echo/internal/dsp"
	"github.com/teslashibe/go-echo/internal/health"
	"github.com/teslashibe/go-echo/internal/metrics"
	"github.com/teslashibe/go-echo/internal/pipeline"
	"github.com/teslashibe/go-echo/internal/server"
)

var (
	version     = "0.1.0"
	configPath  = flag.String("config", "/etc/go-echo/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use the synthetic mock microphone (for testing)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-echo %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	// Override log level if debug flag is set
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *useMock {
		cfg.Capture.Driver = capture.DriverMock
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting go-echo",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the capture session
	driver, err := capture.NewDriver(cfg.Capture, logger)
	if err != nil {
		logger.Error("no capture driver available", "error", err)
		os.Exit(1)
	}

	session, err := capture.Open(ctx, cfg.Sensing, cfg.Capture, driver, logger)
	if err != nil {
		logger.Error("failed to open capture session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	logger.Info("capture session ready",
		"id", session.ID(),
		"driver", driver.Name(),
		"sample_rate", cfg.Sensing.SampleRate,
		"chunk_size", cfg.Sensing.ChunkSize,
	)

	spectral := dsp.New(cfg.Analysis.Spectral, cfg.Analysis.FFT)
	if !spectral.Available() {
		logger.Warn("spectral analysis unavailable, running time-domain analyzers only")
	}

	m := metrics.New()

	// Create pipeline
	p := pipeline.New(session, spectral, cfg.Pipeline, m, logger)

	// Health probes
	checker := health.NewChecker(version)
	checker.Register("capture", true, func() (bool, string) {
		if session.Healthy() {
			return true, "listening"
		}
		return false, session.State().String()
	})
	checker.Register("spectral", false, func() (bool, string) {
		if spectral.Available() {
			return true, spectral.Name()
		}
		return false, "time-domain fallback"
	})
	go checker.Run(ctx, cfg.Server.HealthInterval)

	// Start pipeline in background
	go func() {
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("pipeline error", "error", err)
		}
	}()

	// Create server
	srv := server.New(cfg, p, checker, m, logger, version)

	// Start WebSocket hub in background
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Print startup info
	printStartupBanner(cfg, version)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> pipeline -> session
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("stopping pipeline...")
	p.Stop()

	if err := session.Close(); err != nil {
		logger.Warn("capture close error", "error", err)
	}

	logger.Info("go-echo stopped")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🦇 go-echo v" + version)
	fmt.Println("   Acoustic sensing daemon")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health                 - Health check")
	fmt.Println("   GET  /api/sensing            - Latest analysis snapshot")
	fmt.Println("   GET  /api/sensing/narration  - Latest spoken summary")
	fmt.Println("   WS   /api/sensing/stream     - Real-time sensing stream")
	fmt.Println("   GET  /api/stats              - Pipeline statistics")
	fmt.Println("   GET  /api/config             - Active configuration")
	fmt.Println("   GET  /metrics                - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
