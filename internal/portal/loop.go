package portal

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-portal/internal/capture"
	"github.com/teslashibe/go-portal/internal/scene"
)

// ErrNoFrame is returned before the first headless render
var ErrNoFrame = errors.New("no frame rendered yet")

// LoopConfig configures the headless loop
type LoopConfig struct {
	Interval time.Duration // Tick period, e.g. 16ms for 60Hz
	Render   bool          // Draw into an offscreen image each tick
	Quality  int           // JPEG quality for Frame
}

// DefaultLoopConfig returns a 60Hz rendering loop
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval: time.Second / 60,
		Render:   true,
		Quality:  80,
	}
}

// Loop ticks an App without a window
type Loop struct {
	app    *App
	cfg    LoopConfig
	logger *slog.Logger
	target *scene.ImageTarget

	frameMu sync.RWMutex
	frame   *image.RGBA

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLoop creates a headless loop for app
func NewLoop(app *App, cfg LoopConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultLoopConfig().Interval
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultLoopConfig().Quality
	}

	l := &Loop{
		app:    app,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.Render {
		w, h := app.cfg.Width, app.cfg.Height
		l.target = scene.NewImageTarget(w, h)
	}
	return l
}

// ErrLoopRunning is returned when Run is called more than once
var ErrLoopRunning = errors.New("render loop already started")

// Run ticks until ctx is cancelled or Stop is called (blocking, use goroutine).
// A loop stopped before Run returns immediately without ticking.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	l.logger.Info("render loop started",
		"interval", l.cfg.Interval,
		"render", l.cfg.Render,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			l.logger.Info("render loop stopped", "ticks", l.app.Stats().Ticks)
			return context.Canceled
		default:
		}

		select {
		case <-ctx.Done():
			l.logger.Info("render loop stopped", "ticks", l.app.Stats().Ticks)
			return ctx.Err()
		case <-l.stop:
		case <-timer.C:
			start := time.Now()
			l.step()

			next := l.cfg.Interval - time.Since(start)
			if next < 0 {
				next = 0
			}
			timer.Reset(next)
		}
	}
}

func (l *Loop) step() {
	if l.target == nil {
		l.app.Tick(nil)
		return
	}

	l.app.Tick(l.target)

	l.frameMu.Lock()
	src := l.target.Image
	if l.frame == nil || l.frame.Bounds() != src.Bounds() {
		l.frame = image.NewRGBA(src.Bounds())
	}
	copy(l.frame.Pix, src.Pix)
	l.frameMu.Unlock()
}

// Frame returns the last rendered image as JPEG
func (l *Loop) Frame() ([]byte, error) {
	l.frameMu.RLock()
	defer l.frameMu.RUnlock()

	if l.frame == nil {
		return nil, ErrNoFrame
	}
	return capture.EncodeJPEG(l.frame, l.cfg.Quality)
}

// Stop ends the loop and waits for Run to return. It is safe to call
// before Run, in which case Run exits without ticking.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })

	l.mu.Lock()
	running := l.running
	l.mu.Unlock()

	if running {
		<-l.done
	}
}
