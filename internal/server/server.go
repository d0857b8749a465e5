// Package server provides the debug and control HTTP server for go-portal
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-portal/internal/config"
	"github.com/teslashibe/go-portal/internal/health"
	"github.com/teslashibe/go-portal/internal/portal"
	"github.com/teslashibe/go-portal/internal/scene"
)

// Portal is the part of the application context the server reads and
// queues input into
type Portal interface {
	Snapshot() portal.State
	Stats() portal.Stats
	Config() portal.Config
	Asset() scene.Asset
	QueuePointer(dx, dy float64) error
	QueueResize(width, height int) error
	QueueReset()
}

// FrameSource serves the latest offscreen render
type FrameSource interface {
	Frame() ([]byte, error)
}

// Server is the HTTP server for go-portal
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	portal  Portal
	frames  FrameSource
	checker *health.Checker
	logger  *slog.Logger
	wsHub   *WSHub
	version string
}

// New creates a new HTTP server. frames may be nil when running with a
// window.
func New(cfg *config.Config, p Portal, frames FrameSource, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(version)
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-portal",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:     app,
		cfg:     cfg,
		portal:  p,
		frames:  frames,
		checker: checker,
		logger:  logger,
		version: version,
	}
	s.wsHub = NewWSHub(p, HubConfig{
		Interval:  time.Second / time.Duration(max(cfg.Server.StreamHz, 1)),
		SessionID: checker.SessionID(),
		Version:   version,
	}, logger)

	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	api.Get("/state", s.stateHandler)
	api.Get("/state/stream", s.wsHub.UpgradeHandler())
	api.Get("/stats", s.statsHandler)
	api.Get("/config", s.configHandler)
	api.Get("/frame.jpg", s.frameHandler)

	api.Post("/pointer", s.pointerHandler)
	api.Post("/resize", s.resizeHandler)
	api.Post("/rig/reset", s.resetHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(s.checker.GetStatus())
}

// stateHandler returns the last published tick
func (s *Server) stateHandler(c *fiber.Ctx) error {
	return c.JSON(s.portal.Snapshot())
}

// statsHandler returns loop statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"portal":            s.portal.Stats(),
		"websocket_clients": s.wsHub.ClientCount(),
		"uptime_seconds":    int64(s.checker.Uptime().Seconds()),
	})
}

// configHandler returns the effective configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	p := s.portal.Config()
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
			"stream_hz":        s.cfg.Server.StreamHz,
		},
		"display": fiber.Map{
			"headless": s.cfg.Display.Headless,
			"profile":  p.Profile,
			"width":    p.Width,
			"height":   p.Height,
		},
		"capture": fiber.Map{
			"kind":      s.cfg.Capture.Kind,
			"width":     s.cfg.Capture.Width,
			"height":    s.cfg.Capture.Height,
			"framerate": s.cfg.Capture.Framerate,
		},
		"pose": fiber.Map{
			"enabled":         s.cfg.Pose.Enabled,
			"estimator":       s.cfg.Pose.Estimator,
			"confidence_gate": p.Gate,
		},
		"projection": fiber.Map{
			"near": p.Near,
			"far":  p.Far,
			"fit":  p.Fit,
		},
		"rig":   p.Rig,
		"asset": s.portal.Asset(),
	})
}

// frameHandler returns the latest headless render as JPEG
func (s *Server) frameHandler(c *fiber.Ctx) error {
	if s.frames == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "frames are only rendered in headless mode",
		})
	}

	data, err := s.frames.Frame()
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, portal.ErrNoFrame) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	c.Set("Content-Type", "image/jpeg")
	c.Set("Cache-Control", "no-store")
	return c.Send(data)
}

type pointerRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// pointerHandler queues a relative pointer movement
func (s *Server) pointerHandler(c *fiber.Ctx) error {
	var req pointerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body: " + err.Error()})
	}

	if err := s.portal.QueuePointer(req.DX, req.DY); err != nil {
		return inputError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

type resizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// resizeHandler queues a viewport change
func (s *Server) resizeHandler(c *fiber.Ctx) error {
	var req resizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body: " + err.Error()})
	}

	if err := s.portal.QueueResize(req.Width, req.Height); err != nil {
		return inputError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

// resetHandler queues a return to the home pose
func (s *Server) resetHandler(c *fiber.Ctx) error {
	s.portal.QueueReset()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

func inputError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, portal.ErrQueueFull):
		status = fiber.StatusTooManyRequests
	case errors.Is(err, portal.ErrInvalidViewport):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	stats := s.portal.Stats()
	state := s.portal.Snapshot()

	var b strings.Builder
	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(&b, "# HELP go_portal_%s %s\n# TYPE go_portal_%s %s\ngo_portal_%s %v\n\n", name, help, name, kind, name, value)
	}

	metric("ticks_total", "counter", "Total render ticks", stats.Ticks)
	metric("rejected_projections_total", "counter", "Ticks whose projection was rejected", stats.Rejected)
	metric("face_updates_total", "counter", "Accepted face updates", stats.FaceUpdates)
	metric("pointer_updates_total", "counter", "Applied pointer movements", stats.PointerUpdates)
	metric("dropped_inputs_total", "counter", "Queued inputs dropped on a full queue", stats.DroppedInputs)
	metric("tick_avg_ms", "gauge", "Average tick duration in milliseconds", fmt.Sprintf("%f", stats.AvgTickMs))
	metric("face_gated_total", "counter", "Estimates below the confidence gate", stats.Face.Gated)
	metric("pose_requests_total", "counter", "Inference requests started", stats.Pose.Requests)
	metric("pose_completed_total", "counter", "Inference requests completed", stats.Pose.Completed)
	metric("pose_skipped_total", "counter", "Polls skipped while an inference was in flight", stats.Pose.Skipped)
	metric("pose_errors_total", "counter", "Inference errors", stats.Pose.Errors)
	metric("pose_latency_avg_ms", "gauge", "Average inference latency in milliseconds", fmt.Sprintf("%f", stats.Pose.AvgLatencyMs))
	metric("pose_healthy", "gauge", "Pose source health (1=healthy, 0=unhealthy)", boolToInt(stats.Pose.Healthy))
	if r := stats.Pose.Remote; r != nil {
		metric("pose_remote_connected", "gauge", "Pose service link (1=connected, 0=down)", boolToInt(r.Connected))
		metric("pose_remote_reconnects_total", "counter", "Pose service reconnect attempts", r.Reconnects)
	}
	metric("eye_azimuth_radians", "gauge", "Current rig azimuth", fmt.Sprintf("%f", state.Rig.Azimuth))
	metric("eye_polar_radians", "gauge", "Current rig polar angle", fmt.Sprintf("%f", state.Rig.Polar))
	metric("uptime_seconds", "gauge", "Server uptime in seconds", int64(s.checker.Uptime().Seconds()))
	metric("websocket_clients", "gauge", "Current WebSocket client count", s.wsHub.ClientCount())

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(b.String())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

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
