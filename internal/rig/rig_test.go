package rig

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

const eps = 1e-9

func near(a, b r3.Vector) bool {
	return a.Sub(b).Norm() < 1e-9
}

func newRig() *Controller {
	c := New(DefaultConfig())
	c.SetViewport(1280, 720)
	return c
}

func TestHomeMatchesInitialPosition(t *testing.T) {
	c := newRig()

	eye := c.Eye()
	want := r3.Vector{X: 0, Y: 50, Z: 100}
	if !near(eye, want) {
		t.Errorf("Eye() = %v, want %v", eye, want)
	}

	s := c.State()
	if math.Abs(s.Radius-math.Sqrt(10100)) > eps {
		t.Errorf("Radius = %v, want sqrt(10100)", s.Radius)
	}
	if s.Azimuth != 0 {
		t.Errorf("Azimuth = %v, want 0", s.Azimuth)
	}
}

func TestApplyFaceIdempotent(t *testing.T) {
	c := newRig()

	c.ApplyFace(960, 300)
	first := c.State()
	c.ApplyFace(960, 300)
	second := c.State()

	if first != second {
		t.Errorf("state changed on repeated input: %+v -> %+v", first, second)
	}
}

func TestApplyFaceAbsolute(t *testing.T) {
	c := newRig()

	c.ApplyPointer(200, 50)
	c.ApplyFace(640, 240)

	home := c.Home()
	s := c.State()
	if math.Abs(s.Azimuth-home.Azimuth) > eps || math.Abs(s.Polar-home.Polar) > eps {
		t.Errorf("centred face should restore home orientation, got %+v want %+v", s, home)
	}
}

func TestApplyFaceDirection(t *testing.T) {
	tests := []struct {
		name     string
		x        int
		y        float64
		check    func(s, home State) bool
		describe string
	}{
		{"right of centre", 1280, 240, func(s, h State) bool { return s.Azimuth > h.Azimuth }, "azimuth increases"},
		{"left of centre", 0, 240, func(s, h State) bool { return s.Azimuth < h.Azimuth }, "azimuth decreases"},
		{"low in frame", 640, 480, func(s, h State) bool { return s.Polar > h.Polar }, "polar increases"},
		{"high in frame", 640, 0, func(s, h State) bool { return s.Polar < h.Polar }, "polar decreases"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newRig()
			c.ApplyFace(tt.x, tt.y)
			if !tt.check(c.State(), c.Home()) {
				t.Errorf("expected %s, got %+v (home %+v)", tt.describe, c.State(), c.Home())
			}
		})
	}
}

func TestApplyFaceSpan(t *testing.T) {
	c := newRig()
	c.ApplyFace(1280, 240)

	want := c.Home().Azimuth + 0.5*DefaultConfig().FaceAzimuthSpan
	if got := c.State().Azimuth; math.Abs(got-want) > eps {
		t.Errorf("Azimuth = %v, want %v", got, want)
	}
	if c.Eye().X <= 0 {
		t.Errorf("eye should move to +X, got %v", c.Eye())
	}
}

func TestApplyPointer(t *testing.T) {
	c := newRig()
	home := c.State()

	// A full viewport height of horizontal travel is one revolution
	c.ApplyPointer(72, 0)
	want := home.Azimuth - 2*math.Pi*72/720
	if got := c.State().Azimuth; math.Abs(got-want) > eps {
		t.Errorf("Azimuth = %v, want %v", got, want)
	}

	c.ApplyPointer(0, -36)
	wantPolar := home.Polar + 2*math.Pi*36/720
	if got := c.State().Polar; math.Abs(got-wantPolar) > eps {
		t.Errorf("Polar = %v, want %v", got, wantPolar)
	}
}

func TestApplyPointerWithoutViewport(t *testing.T) {
	c := New(DefaultConfig())
	before := c.State()
	c.ApplyPointer(100, 100)
	if c.State() != before {
		t.Error("pointer input without a viewport should be ignored")
	}
}

func TestClampBounds(t *testing.T) {
	c := newRig()
	cfg := DefaultConfig()

	c.ApplyPointer(-1e6, 0)
	if got := c.State().Azimuth; got != cfg.MaxAzimuth {
		t.Errorf("Azimuth = %v, want clamp at %v", got, cfg.MaxAzimuth)
	}

	c.ApplyPointer(0, 1e6)
	if got := c.State().Polar; got <= 0 {
		t.Errorf("Polar = %v, must stay off the pole", got)
	}

	c.ApplyPointer(0, -1e6)
	if got := c.State().Polar; got >= math.Pi {
		t.Errorf("Polar = %v, must stay off the pole", got)
	}
}

func TestApplyDolly(t *testing.T) {
	c := newRig()
	cfg := DefaultConfig()

	c.ApplyDolly(0.001)
	if got := c.State().Radius; got != cfg.MinDistance {
		t.Errorf("Radius = %v, want min %v", got, cfg.MinDistance)
	}

	c.ApplyDolly(1e6)
	if got := c.State().Radius; got != cfg.MaxDistance {
		t.Errorf("Radius = %v, want max %v", got, cfg.MaxDistance)
	}

	before := c.State()
	c.ApplyDolly(-1)
	c.ApplyDolly(math.NaN())
	if c.State() != before {
		t.Error("invalid dolly scale should be ignored")
	}
}

func TestReset(t *testing.T) {
	c := newRig()
	c.ApplyPointer(300, 100)
	c.ApplyDolly(2)
	c.Reset()

	if c.State() != c.Home() {
		t.Errorf("Reset() state = %+v, want %+v", c.State(), c.Home())
	}
}

func TestFromPositionRoundTrip(t *testing.T) {
	target := r3.Vector{X: 1, Y: 2, Z: 3}
	positions := []r3.Vector{
		{X: 10, Y: 5, Z: -4},
		{X: -3, Y: 20, Z: 8},
		{X: 1, Y: -30, Z: 3.5},
	}

	for _, p := range positions {
		got := FromPosition(p, target).Position()
		if !near(got, p) {
			t.Errorf("round trip of %v gave %v", p, got)
		}
	}
}
