// go-portal: head-tracked virtual window
// Renders a 3D scene through an off-axis frustum that follows the viewer's eyes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/teslashibe/go-portal/internal/capture"
	"github.com/teslashibe/go-portal/internal/config"
	"github.com/teslashibe/go-portal/internal/display"
	"github.com/teslashibe/go-portal/internal/health"
	"github.com/teslashibe/go-portal/internal/portal"
	"github.com/teslashibe/go-portal/internal/pose"
	"github.com/teslashibe/go-portal/internal/scene"
	"github.com/teslashibe/go-portal/internal/server"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-portal/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use mock camera and face estimator (for testing)")
	headless    = flag.Bool("headless", false, "run without a window, serve frames over HTTP")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-portal %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *headless {
		cfg.Display.Headless = true
	}
	if *useMock {
		cfg.Capture.Kind = string(capture.KindMock)
		cfg.Pose.Estimator = "mock"
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-portal",
		"version", version,
		"config", *configPath,
		"headless", cfg.Display.Headless,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	profile, _ := portal.ParseProfile(cfg.Display.Profile)
	profile = profile.Resolve(runtime.GOOS)

	// Root context ends on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	checker := health.NewChecker(version)

	// Scene asset; a failed load degrades to the frame outline only
	asset, err := scene.LoadAsset(ctx, cfg.AssetLoader(), logger)
	if err != nil {
		logger.Warn("scene asset unavailable, rendering frame only", "error", err)
	}

	// Face tracking
	var source *pose.Source
	var frames capture.Source

	if cfg.Pose.Enabled {
		frames, err = capture.Open(cfg.CaptureSource(), logger)
		if err != nil {
			logger.Warn("face tracking unavailable, pointer control only", "error", err)
			source = pose.NewDisabledSource(err, logger)
		} else {
			source = pose.Setup(ctx, frames, estimatorFactory(ctx, cfg, logger), cfg.PoseSource(), logger)
		}
	} else {
		source = pose.NewDisabledSource(errors.New("disabled in configuration"), logger)
		logger.Info("face tracking disabled, pointer control only")
	}

	app, err := portal.New(cfg.Portal(profile), source, asset, logger)
	if err != nil {
		logger.Error("failed to create portal", "error", err)
		source.Close()
		os.Exit(1)
	}

	watchComponents(checker, app, source, frames)

	// Headless loop renders offscreen and feeds /api/frame.jpg
	var loop *portal.Loop
	var frameSource server.FrameSource
	if cfg.Display.Headless {
		loop = portal.NewLoop(app, cfg.Loop(), logger)
		if cfg.Display.Render {
			frameSource = loop
		}
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg, app, frameSource, checker, logger, version)

		go srv.WSHub().Run(ctx)

		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", "error", err)
				cancel()
			}
		}()
	}

	printStartupBanner(cfg, profile, version)

	if loop != nil {
		go func() {
			if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("render loop error", "error", err)
			}
		}()
		<-ctx.Done()
		logger.Info("received shutdown signal")
	} else {
		// The window must own the main goroutine
		if err := display.Run(ctx, app, displayConfig(cfg), logger); err != nil {
			logger.Error("window error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> loop -> pose source
	if srv != nil {
		logger.Info("shutting down server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
	}

	if loop != nil {
		logger.Info("stopping render loop...")
		loop.Stop()
	}

	logger.Info("stopping face tracking...")
	app.Close()

	logger.Info("go-portal stopped")
}

// estimatorFactory returns the opener for the configured face estimator
func estimatorFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() (pose.Estimator, error) {
	return func() (pose.Estimator, error) {
		switch cfg.Pose.Estimator {
		case "yunet":
			return pose.NewYuNetEstimator(cfg.YuNet())
		case "remote":
			r := pose.NewRemoteEstimator(cfg.Remote(), logger)
			if err := r.Connect(ctx); err != nil {
				return nil, err
			}
			return r, nil
		case "mock":
			return pose.NewMockEstimatorWithWave(cfg.Pose.MockPeriod), nil
		default:
			return nil, fmt.Errorf("unknown estimator %q", cfg.Pose.Estimator)
		}
	}
}

func watchComponents(checker *health.Checker, app *portal.App, source *pose.Source, frames capture.Source) {
	checker.Watch(health.ComponentPose, func() (bool, string) {
		if err := source.Err(); err != nil {
			return false, err.Error()
		}
		if r := source.Stats().Remote; r != nil && !r.Connected {
			return false, "pose service not connected"
		}
		return source.Healthy(), ""
	})

	checker.Watch(health.ComponentCapture, func() (bool, string) {
		if frames == nil {
			return false, "no capture source"
		}
		return frames.Healthy(), frames.Name()
	})

	asset := app.Asset()
	if asset.Degraded {
		checker.SetComponent(health.ComponentAsset, false, asset.Error)
	} else {
		checker.SetComponent(health.ComponentAsset, true, asset.Source)
	}

	checker.Watch(health.ComponentProjection, func() (bool, string) {
		st := app.Snapshot()
		if st.Tick > 0 && !st.Valid {
			return false, fmt.Sprintf("no valid projection after %d rejected ticks", st.Rejected)
		}
		return true, ""
	})
}

func displayConfig(cfg *config.Config) display.Config {
	d := display.DefaultConfig()
	d.Title = cfg.Display.Title
	d.Width = cfg.Display.Width
	d.Height = cfg.Display.Height
	d.TPS = cfg.Display.RefreshHz
	d.HUD = cfg.Display.HUD
	return d
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

func printStartupBanner(cfg *config.Config, profile portal.Profile, version string) {
	fmt.Println()
	fmt.Println("🪟 go-portal v" + version)
	fmt.Printf("   Head-tracked virtual window (%s profile)\n", profile)
	fmt.Println()
	if !cfg.Server.Enabled {
		fmt.Println("   HTTP API disabled")
		fmt.Println()
		return
	}
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/state           - Current eye, rig and frustum")
	fmt.Println("   WS   /api/state/stream    - Real-time state stream")
	fmt.Println("   POST /api/pointer         - Orbit the camera")
	fmt.Println("   POST /api/rig/reset       - Return to the home pose")
	if cfg.Display.Headless {
		fmt.Println("   GET  /api/frame.jpg       - Latest rendered frame")
	}
	fmt.Println("   GET  /api/stats           - Loop statistics")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
