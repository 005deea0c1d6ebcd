package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled often and not worth a log line per request
var quietPaths = map[string]struct{}{
	"/metrics":               {},
	"/health":                {},
	"/api/sensing":           {},
	"/api/sensing/":          {},
	"/api/sensing/narration": {},
}

// LoggingMiddleware logs HTTP requests, server errors at warn level
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		path := c.Path()
		if _, quiet := quietPaths[path]; quiet {
			return err
		}

		status := c.Response().StatusCode()
		level := slog.LevelInfo
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
