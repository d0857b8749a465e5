// Package portal drives the per-tick pipeline: pose polling, face
// extraction, rig update, projection and rendering.
package portal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-portal/internal/face"
	"github.com/teslashibe/go-portal/internal/frustum"
	"github.com/teslashibe/go-portal/internal/pose"
	"github.com/teslashibe/go-portal/internal/rig"
	"github.com/teslashibe/go-portal/internal/scene"
)

var (
	// ErrQueueFull is returned when input arrives faster than ticks drain it
	ErrQueueFull = errors.New("input queue full")

	// ErrInvalidViewport is returned for non-positive viewport sizes
	ErrInvalidViewport = errors.New("viewport must be positive")
)

// PoseSource is the part of pose.Source the loop uses
type PoseSource interface {
	Latest() pose.Result
	Healthy() bool
	Stats() pose.Stats
	Close() error
}

// Config configures the application context
type Config struct {
	Profile    Profile
	Width      int // Initial viewport
	Height     int
	Near       float64
	Far        float64
	Fit        frustum.FitMode
	VideoWidth float64 // Used when a result carries no frame width
	Gate       float64 // Eye confidence gate
	QueueSize  int
	Rig        rig.Config
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Profile:    ProfileDesktop,
		Width:      1280,
		Height:     720,
		Near:       1,
		Far:        5000,
		Fit:        frustum.FitStretch,
		VideoWidth: 640,
		Gate:       face.ConfidenceGate,
		QueueSize:  64,
		Rig:        rig.DefaultConfig(),
	}
}

// PointerEvent is a relative pointer movement in pixels
type PointerEvent struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type size struct{ w, h int }

// State is the immutable snapshot published at the end of each tick
type State struct {
	Tick       uint64             `json:"tick"`
	Profile    Profile            `json:"profile"`
	Eye        r3.Vector          `json:"eye"`
	Rig        rig.State          `json:"rig"`
	Face       *face.EyePosition  `json:"face,omitempty"`
	Projection frustum.Projection `json:"projection"`
	Valid      bool               `json:"valid"` // A projection has been accepted at least once
	Viewport   [2]int             `json:"viewport"`
	Rejected   uint64             `json:"rejected"`
	PoseAlive  bool               `json:"pose_alive"`
	Render     scene.RenderStats  `json:"render"`
	Timestamp  time.Time          `json:"timestamp"`
}

// App is the explicit application context. Rig, projection and scene are
// owned by the goroutine calling Tick and the Handle methods; other goroutines
// queue input and read snapshots.
type App struct {
	cfg       Config
	logger    *slog.Logger
	rig       *rig.Controller
	projector frustum.Projector
	pose      PoseSource
	extractor *face.Extractor
	scene     *scene.Scene
	asset     scene.Asset
	renderer  *scene.Renderer

	// render goroutine state
	width, height int
	lastSeq       uint64
	face          *face.EyePosition
	projection    frustum.Projection
	valid         bool
	rejectStreak  int
	render        scene.RenderStats
	tick          uint64

	pointerCh chan PointerEvent
	resizeCh  chan size
	resetCh   chan struct{}

	ticks          atomic.Uint64
	rejected       atomic.Uint64
	faceUpdates    atomic.Uint64
	pointerUpdates atomic.Uint64
	dropped        atomic.Uint64
	totalTickNs    atomic.Int64

	snapMu sync.RWMutex
	snap   State

	closeOnce sync.Once
	closeErr  error
}

// New creates the application context. The profile must already be resolved.
func New(cfg Config, source PoseSource, asset scene.Asset, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidViewport, cfg.Width, cfg.Height)
	}
	if cfg.Profile == ProfileAuto || cfg.Profile == "" {
		return nil, fmt.Errorf("profile %q must be resolved", cfg.Profile)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if source == nil {
		source = pose.NewDisabledSource(errors.New("no pose source configured"), logger)
	}

	frame := cfg.Profile.Frame()
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", cfg.Profile, err)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		rig:       rig.New(cfg.Rig),
		projector: frustum.Projector{Frame: frame, Near: cfg.Near, Far: cfg.Far, Fit: cfg.Fit},
		pose:      source,
		extractor: face.NewExtractor(cfg.Gate),
		scene:     scene.Build(frame, asset, cfg.Profile.Placement()),
		asset:     asset,
		renderer:  scene.NewRenderer(),
		width:     cfg.Width,
		height:    cfg.Height,
		pointerCh: make(chan PointerEvent, cfg.QueueSize),
		resizeCh:  make(chan size, cfg.QueueSize),
		resetCh:   make(chan struct{}, 1),
	}
	a.rig.SetViewport(cfg.Width, cfg.Height)

	logger.Info("portal ready",
		"profile", cfg.Profile,
		"viewport", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fit", cfg.Fit,
		"asset", asset.Source,
		"edges", a.scene.EdgeCount(),
	)
	return a, nil
}

// QueuePointer schedules a pointer movement for the next tick
func (a *App) QueuePointer(dx, dy float64) error {
	select {
	case a.pointerCh <- PointerEvent{DX: dx, DY: dy}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// QueueResize schedules a viewport change for the next tick
func (a *App) QueueResize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidViewport, width, height)
	}
	select {
	case a.resizeCh <- size{width, height}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// QueueReset schedules a return to the home pose
func (a *App) QueueReset() {
	select {
	case a.resetCh <- struct{}{}:
	default:
	}
}

// HandlePointer applies a pointer movement immediately. Render goroutine only.
func (a *App) HandlePointer(dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	a.rig.ApplyPointer(dx, dy)
	a.pointerUpdates.Add(1)
}

// HandleDolly scales the orbit radius. Render goroutine only.
func (a *App) HandleDolly(scale float64) {
	a.rig.ApplyDolly(scale)
}

// HandleReset returns the rig home. Render goroutine only.
func (a *App) HandleReset() {
	a.rig.Reset()
	a.logger.Debug("rig reset")
}

// Tick advances one frame: queued input, face update, projection, then
// rendering into t when it is not nil
func (a *App) Tick(t scene.Target) State {
	a.update()
	if t != nil {
		a.Render(t)
	}
	return a.publish()
}

func (a *App) update() {
	start := time.Now()
	a.drain()

	result := a.pose.Latest()
	if result.Seq != a.lastSeq {
		a.lastSeq = result.Seq

		videoWidth := float64(result.FrameWidth)
		if videoWidth <= 0 {
			videoWidth = a.cfg.VideoWidth
		}
		if eye, ok := a.extractor.Extract(result, videoWidth, float64(a.width)); ok {
			a.rig.ApplyFace(eye.X, eye.Y)
			a.face = &eye
			a.faceUpdates.Add(1)
		}
	}

	a.project()
	a.tick++
	a.ticks.Add(1)
	a.totalTickNs.Add(time.Since(start).Nanoseconds())
}

// drain applies queued input. Only the render goroutine receives from the
// channels, so their lengths can only grow while draining.
func (a *App) drain() {
	for n := len(a.resizeCh); n > 0; n-- {
		sz := <-a.resizeCh
		a.resize(sz.w, sz.h)
	}
	for n := len(a.pointerCh); n > 0; n-- {
		ev := <-a.pointerCh
		a.HandlePointer(ev.DX, ev.DY)
	}
	select {
	case <-a.resetCh:
		a.HandleReset()
	default:
	}
}

func (a *App) resize(width, height int) {
	if width == a.width && height == a.height {
		return
	}
	a.width, a.height = width, height
	a.rig.SetViewport(width, height)
	a.logger.Debug("viewport resized", "width", width, "height", height)
}

func (a *App) project() {
	aspect := float64(a.width) / float64(a.height)

	proj, err := a.projector.Project(a.rig.Eye(), aspect)
	if err != nil {
		a.rejected.Add(1)
		a.rejectStreak++
		if a.rejectStreak == 1 {
			a.logger.Warn("projection rejected, keeping previous",
				"error", err,
				"eye", a.rig.Eye(),
			)
		}
		return
	}

	if a.rejectStreak > 0 {
		a.logger.Info("projection recovered", "rejected_ticks", a.rejectStreak)
		a.rejectStreak = 0
	}
	a.projection = proj
	a.valid = true
}

// Render draws the scene with the current projection. Render goroutine only.
func (a *App) Render(t scene.Target) scene.RenderStats {
	if r, ok := t.(interface{ Resize(w, h int) }); ok {
		r.Resize(a.width, a.height)
	}
	if !a.valid {
		return scene.RenderStats{}
	}
	a.render = a.renderer.Render(t, a.scene, a.projection.View, a.projection.Matrix)
	return a.render
}

func (a *App) publish() State {
	st := State{
		Tick:       a.tick,
		Profile:    a.cfg.Profile,
		Eye:        a.rig.Eye(),
		Rig:        a.rig.State(),
		Projection: a.projection,
		Valid:      a.valid,
		Viewport:   [2]int{a.width, a.height},
		Rejected:   a.rejected.Load(),
		PoseAlive:  a.pose.Healthy(),
		Render:     a.render,
		Timestamp:  time.Now(),
	}
	if a.face != nil {
		f := *a.face
		st.Face = &f
	}

	a.snapMu.Lock()
	a.snap = st
	a.snapMu.Unlock()
	return st
}

// Snapshot returns the state published by the last tick
func (a *App) Snapshot() State {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()
	return a.snap
}

// Asset returns the loaded asset description
func (a *App) Asset() scene.Asset { return a.asset }

// Config returns the configuration the app was built with
func (a *App) Config() Config { return a.cfg }

// Stats contains loop statistics
type Stats struct {
	Ticks          uint64      `json:"ticks"`
	Rejected       uint64      `json:"rejected"`
	FaceUpdates    uint64      `json:"face_updates"`
	PointerUpdates uint64      `json:"pointer_updates"`
	DroppedInputs  uint64      `json:"dropped_inputs"`
	AvgTickMs      float64     `json:"avg_tick_ms"`
	Pose           pose.Stats  `json:"pose"`
	Face           face.Stats  `json:"face"`
	Asset          scene.Asset `json:"asset"`
}

// Stats returns loop statistics
func (a *App) Stats() Stats {
	ticks := a.ticks.Load()
	var avg float64
	if ticks > 0 {
		avg = float64(a.totalTickNs.Load()) / float64(ticks) / 1e6
	}

	return Stats{
		Ticks:          ticks,
		Rejected:       a.rejected.Load(),
		FaceUpdates:    a.faceUpdates.Load(),
		PointerUpdates: a.pointerUpdates.Load(),
		DroppedInputs:  a.dropped.Load(),
		AvgTickMs:      avg,
		Pose:           a.pose.Stats(),
		Face:           a.extractor.Stats(),
		Asset:          a.asset,
	}
}

// Close releases the pose source and with it the estimator and capture
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if err := a.pose.Close(); err != nil {
			a.closeErr = fmt.Errorf("close pose source: %w", err)
		}
		a.logger.Info("portal closed",
			"ticks", a.ticks.Load(),
			"rejected", a.rejected.Load(),
		)
	})
	return a.closeErr
}
