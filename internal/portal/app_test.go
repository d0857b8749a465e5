package portal

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-portal/internal/capture"
	"github.com/teslashibe/go-portal/internal/frustum"
	"github.com/teslashibe/go-portal/internal/pose"
	"github.com/teslashibe/go-portal/internal/rig"
	"github.com/teslashibe/go-portal/internal/scene"
)

var _ PoseSource = (*pose.Source)(nil)

type fakePose struct {
	mu      sync.Mutex
	result  pose.Result
	healthy bool
	closes  int
}

func newFakePose() *fakePose {
	return &fakePose{healthy: true}
}

func (f *fakePose) Latest() pose.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakePose) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakePose) Stats() pose.Stats {
	return pose.Stats{Enabled: true, Healthy: f.Healthy()}
}

func (f *fakePose) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// publish replaces the result with a new sequence number
func (f *fakePose) publish(estimates ...pose.Estimate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = pose.Result{
		Seq:         f.result.Seq + 1,
		FrameWidth:  640,
		FrameHeight: 480,
		Estimates:   estimates,
	}
}

func newTestApp(t *testing.T, cfg Config, src PoseSource) *App {
	t.Helper()
	app, err := New(cfg, src, scene.Asset{Source: scene.BuiltinSource, Mesh: scene.CityBlock(2)}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return app
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"negative height", func(c *Config) { c.Height = -1 }},
		{"unresolved profile", func(c *Config) { c.Profile = ProfileAuto }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if _, err := New(cfg, newFakePose(), scene.Asset{}, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTickAppliesFace(t *testing.T) {
	src := newFakePose()
	app := newTestApp(t, DefaultConfig(), src)
	home := app.rig.Home()

	src.publish(pose.EyeEstimate(160, 200, 0.9))
	st := app.Tick(nil)

	if st.Face == nil || st.Face.X != 960 {
		t.Fatalf("Face = %+v, want X 960", st.Face)
	}
	if !near(st.Rig.Azimuth, home.Azimuth+0.25) {
		t.Errorf("Azimuth = %v, want %v", st.Rig.Azimuth, home.Azimuth+0.25)
	}
	wantPolar := home.Polar + (200.0/480-0.5)*0.6
	if !near(st.Rig.Polar, wantPolar) {
		t.Errorf("Polar = %v, want %v", st.Rig.Polar, wantPolar)
	}
	if app.Stats().FaceUpdates != 1 {
		t.Errorf("FaceUpdates = %d, want 1", app.Stats().FaceUpdates)
	}
}

func TestTickLowConfidenceLeavesRig(t *testing.T) {
	for _, score := range []float64{0.2, 0.7} {
		src := newFakePose()
		app := newTestApp(t, DefaultConfig(), src)
		before := app.Tick(nil).Rig

		src.publish(pose.EyeEstimate(100, 100, score))
		st := app.Tick(nil)

		if st.Rig != before {
			t.Errorf("score %v: rig changed from %+v to %+v", score, before, st.Rig)
		}
		if st.Face != nil {
			t.Errorf("score %v: Face = %+v, want nil", score, st.Face)
		}
	}
}

func TestTickIgnoresRepeatedResult(t *testing.T) {
	src := newFakePose()
	app := newTestApp(t, DefaultConfig(), src)

	src.publish(pose.EyeEstimate(160, 200, 0.9))
	app.Tick(nil)

	app.HandlePointer(50, 0)
	moved := app.rig.State()

	st := app.Tick(nil)
	if st.Rig != moved {
		t.Error("an already applied result should not override pointer input")
	}
	if app.Stats().FaceUpdates != 1 {
		t.Errorf("FaceUpdates = %d, want 1", app.Stats().FaceUpdates)
	}
}

func TestQueuedPointerAndReset(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), newFakePose())
	home := app.rig.Home()

	if err := app.QueuePointer(72, 0); err != nil {
		t.Fatalf("QueuePointer() error = %v", err)
	}
	st := app.Tick(nil)

	want := home.Azimuth - 2*math.Pi*72/720
	if !near(st.Rig.Azimuth, want) {
		t.Errorf("Azimuth = %v, want %v", st.Rig.Azimuth, want)
	}

	app.QueueReset()
	app.QueueReset()
	if st := app.Tick(nil); st.Rig != home {
		t.Errorf("after reset rig = %+v, want home %+v", st.Rig, home)
	}
}

func TestQueueLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	app := newTestApp(t, cfg, newFakePose())

	if err := app.QueuePointer(1, 1); err != nil {
		t.Fatalf("first QueuePointer() error = %v", err)
	}
	if err := app.QueuePointer(1, 1); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second QueuePointer() error = %v, want ErrQueueFull", err)
	}
	if err := app.QueueResize(0, 10); !errors.Is(err, ErrInvalidViewport) {
		t.Errorf("QueueResize(0, 10) error = %v, want ErrInvalidViewport", err)
	}
	if got := app.Stats().DroppedInputs; got != 1 {
		t.Errorf("DroppedInputs = %d, want 1", got)
	}
}

func TestResizeUpdatesAspect(t *testing.T) {
	t.Run("stretch", func(t *testing.T) {
		app := newTestApp(t, DefaultConfig(), newFakePose())
		first := app.Tick(nil)

		app.QueueResize(1000, 500)
		st := app.Tick(nil)

		if st.Viewport != [2]int{1000, 500} {
			t.Errorf("Viewport = %v", st.Viewport)
		}
		if !near(st.Projection.Aspect, 2) {
			t.Errorf("Aspect = %v, want 2", st.Projection.Aspect)
		}
		if st.Projection.Bounds != first.Projection.Bounds {
			t.Error("stretch bounds should not change with the viewport")
		}
	})

	t.Run("contain", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Fit = frustum.FitContain
		app := newTestApp(t, cfg, newFakePose())

		app.QueueResize(1000, 500)
		st := app.Tick(nil)
		if !near(st.Projection.Bounds.Aspect(), 2) {
			t.Errorf("bounds aspect = %v, want 2", st.Projection.Bounds.Aspect())
		}

		app.QueueResize(500, 1000)
		st = app.Tick(nil)
		if !near(st.Projection.Bounds.Aspect(), 0.5) {
			t.Errorf("bounds aspect = %v, want 0.5", st.Projection.Bounds.Aspect())
		}
	})
}

func TestRejectedProjectionKeepsPrevious(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rig = rig.DefaultConfig()
	cfg.Rig.MinAzimuth = -math.Pi
	cfg.Rig.MaxAzimuth = math.Pi
	app := newTestApp(t, cfg, newFakePose())

	good := app.Tick(nil)
	if !good.Valid {
		t.Fatal("home pose should project")
	}

	// Half a viewport height of travel swings the eye behind the frame
	app.QueuePointer(-float64(cfg.Height)/2, 0)
	for i := 0; i < 2; i++ {
		st := app.Tick(nil)
		if st.Projection != good.Projection {
			t.Fatal("rejected tick should keep the previous projection")
		}
		if !st.Valid {
			t.Error("Valid should stay true")
		}
		if st.Rejected != uint64(i+1) {
			t.Errorf("Rejected = %d, want %d", st.Rejected, i+1)
		}
		if !st.Projection.Matrix.Finite() {
			t.Error("kept projection should be finite")
		}
	}

	app.QueueReset()
	st := app.Tick(nil)
	if st.Rejected != 2 {
		t.Errorf("Rejected = %d after recovery, want 2", st.Rejected)
	}
	if app.rejectStreak != 0 {
		t.Errorf("rejectStreak = %d, want 0", app.rejectStreak)
	}
}

func TestTickRendersIntoTarget(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), newFakePose())
	target := scene.NewImageTarget(1, 1)

	st := app.Tick(target)
	if w, h := target.Size(); w != 1280 || h != 720 {
		t.Errorf("target size = %dx%d, want viewport", w, h)
	}
	if st.Render.Drawn == 0 {
		t.Errorf("Render = %+v, want edges drawn", st.Render)
	}
	if app.Snapshot().Tick != st.Tick {
		t.Error("Snapshot should return the last published state")
	}
}

func TestDisabledPoseKeepsRunning(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), nil)

	st := app.Tick(nil)
	if st.PoseAlive {
		t.Error("disabled pose should not be alive")
	}
	if !st.Valid {
		t.Error("loop should still project")
	}
	if err := app.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCloseOnce(t *testing.T) {
	src := newFakePose()
	app := newTestApp(t, DefaultConfig(), src)

	app.Close()
	app.Close()

	if src.closes != 1 {
		t.Errorf("pose closed %d times, want 1", src.closes)
	}
}

func TestTickWithPoseSource(t *testing.T) {
	frames := capture.NewMockSource(640, 480)
	estimator := pose.NewMockEstimator(pose.EyeEstimate(160, 240, 0.95))

	src := pose.Setup(context.Background(), frames, func() (pose.Estimator, error) {
		return estimator, nil
	}, pose.DefaultConfig(), nil)

	app := newTestApp(t, DefaultConfig(), src)
	defer app.Close()

	deadline := time.Now().Add(2 * time.Second)
	for app.Stats().FaceUpdates == 0 {
		if time.Now().After(deadline) {
			t.Fatal("face never applied")
		}
		app.Tick(nil)
		time.Sleep(5 * time.Millisecond)
	}

	if got := app.Snapshot().Face; got == nil || got.X != 960 {
		t.Errorf("Face = %+v, want X 960", got)
	}
	if estimator.MaxConcurrent() > 1 {
		t.Errorf("MaxConcurrent = %d, want 1", estimator.MaxConcurrent())
	}
}
