// Package server provides the HTTP server for go-echo
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-echo/internal/config"
	"github.com/teslashibe/go-echo/internal/health"
	"github.com/teslashibe/go-echo/internal/metrics"
	"github.com/teslashibe/go-echo/internal/narration"
	"github.com/teslashibe/go-echo/internal/pipeline"
)

// Server is the HTTP server for go-echo
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	checker   *health.Checker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server. A nil pipeline makes the sensing
// endpoints answer 503.
func New(cfg *config.Config, p *pipeline.Pipeline, checker *health.Checker, m *metrics.Metrics, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if checker == nil {
		checker = health.NewChecker(version)
	}
	if m == nil {
		m = metrics.New()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-echo",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		pipeline:  p,
		checker:   checker,
		metrics:   m,
		logger:    logger,
		wsHub:     NewWSHub(p, m, logger),
		startTime: time.Now(),
		version:   version,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api")

	// Sensing API
	sensing := api.Group("/sensing")
	sensing.Get("/", s.snapshotHandler)
	sensing.Get("/narration", s.narrationHandler)
	sensing.Get("/stream", s.wsHub.UpgradeHandler())

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health. A failing critical component
// answers 503 so orchestrators can restart the daemon.
func (s *Server) healthHandler(c *fiber.Ctx) error {
	s.checker.Refresh()
	status := s.checker.GetStatus()

	code := fiber.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// snapshotHandler returns the latest analysis snapshot
func (s *Server) snapshotHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "sensing pipeline not available",
		})
	}

	snap, ok := s.pipeline.Latest()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no frame analyzed yet",
		})
	}

	return c.JSON(snap)
}

// narrationHandler returns the spoken summary of the latest snapshot
func (s *Server) narrationHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "sensing pipeline not available",
		})
	}

	snap, ok := s.pipeline.Latest()
	if !ok {
		return c.JSON(fiber.Map{
			"seq":     0,
			"text":    narration.NoSounds,
			"narrate": false,
		})
	}

	return c.JSON(fiber.Map{
		"seq":       snap.Sequence,
		"text":      snap.Summary,
		"narrate":   snap.Narrate,
		"timestamp": snap.Timestamp,
	})
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
		},
		"sensing":  s.cfg.Sensing,
		"analysis": s.cfg.Analysis,
		"capture": fiber.Map{
			"driver":        s.cfg.Capture.Driver,
			"device":        s.cfg.Capture.Device,
			"read_timeout":  s.cfg.Capture.ReadTimeout.String(),
			"buffer_frames": s.cfg.Capture.BufferFrames,
		},
	})
}

// statsHandler returns pipeline statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "sensing pipeline not available",
		})
	}

	return c.JSON(fiber.Map{
		"pipeline":          s.pipeline.Stats(),
		"websocket_clients": s.wsHub.ClientCount(),
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
