package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id
const RequestIDHeader = "X-Request-ID"

// quietPaths are polled often and only logged at debug
var quietPaths = map[string]bool{
	"/metrics":       true,
	"/health":        true,
	"/api/state":     true,
	"/api/frame.jpg": true,
	"/api/pointer":   true,
}

// LoggingMiddleware tags each request with an id and logs it
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDHeader, id)

		err := c.Next()

		level := slog.LevelInfo
		if quietPaths[c.Path()] {
			level = slog.LevelDebug
		}

		logger.Log(c.Context(), level, "http request",
			"id", id,
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
