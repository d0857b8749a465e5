// Package rig implements the orbit camera rig driven by pointer and face input
package rig

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-portal/internal/coords"
)

// poleEpsilon keeps the polar angle off the poles
const poleEpsilon = 1e-6

// Config configures the rig
type Config struct {
	Target   r3.Vector // Orbit centre
	Position r3.Vector // Initial camera position, defines the home pose

	MinDistance float64
	MaxDistance float64
	MinPolar    float64 // Radians from +Y
	MaxPolar    float64
	MinAzimuth  float64 // Radians around +Y, 0 looks down -Z from +Z
	MaxAzimuth  float64

	// RotateSpeed scales pointer deltas; a full viewport height of travel
	// rotates by 2π·RotateSpeed
	RotateSpeed float64

	// Face mapping: a face at the display edge moves the azimuth by half
	// FaceAzimuthSpan from home; FaceYReference is the source-frame height
	// the raw eye y is normalised against
	FaceAzimuthSpan float64
	FacePolarSpan   float64
	FaceYReference  float64
}

// DefaultConfig returns the rig used by the portal scene
func DefaultConfig() Config {
	return Config{
		Target:          r3.Vector{X: 0, Y: 40, Z: 0},
		Position:        r3.Vector{X: 0, Y: 50, Z: 100},
		MinDistance:     10,
		MaxDistance:     400,
		MinPolar:        0,
		MaxPolar:        math.Pi,
		MinAzimuth:      -1.4,
		MaxAzimuth:      1.4,
		RotateSpeed:     1,
		FaceAzimuthSpan: 1.0,
		FacePolarSpan:   0.6,
		FaceYReference:  480,
	}
}

// State is a snapshot of the rig's spherical coordinates
type State struct {
	Target  r3.Vector `json:"target"`
	Radius  float64   `json:"radius"`
	Polar   float64   `json:"polar"`
	Azimuth float64   `json:"azimuth"`
}

// Controller owns the rig state. It is not safe for concurrent use; all
// input is applied from the render goroutine.
type Controller struct {
	cfg  Config
	home State
	cur  State

	viewportW float64
	viewportH float64
}

// New creates a controller at the home pose derived from cfg.Position
func New(cfg Config) *Controller {
	home := FromPosition(cfg.Position, cfg.Target)

	c := &Controller{cfg: cfg}
	c.home = c.clamp(home)
	c.cur = c.home
	return c
}

// FromPosition converts a camera position around target to spherical form
func FromPosition(position, target r3.Vector) State {
	offset := position.Sub(target)
	radius := offset.Norm()

	s := State{Target: target, Radius: radius}
	if radius == 0 {
		return s
	}
	s.Azimuth = math.Atan2(offset.X, offset.Z)
	s.Polar = math.Acos(coords.Clamp(offset.Y/radius, -1, 1))
	return s
}

// Position returns the camera position for s
func (s State) Position() r3.Vector {
	sinPolar := math.Sin(s.Polar) * s.Radius
	return s.Target.Add(r3.Vector{
		X: sinPolar * math.Sin(s.Azimuth),
		Y: math.Cos(s.Polar) * s.Radius,
		Z: sinPolar * math.Cos(s.Azimuth),
	})
}

// SetViewport records the display size used to normalise input
func (c *Controller) SetViewport(width, height int) {
	c.viewportW = float64(width)
	c.viewportH = float64(height)
}

// ApplyPointer rotates by a relative pointer movement in pixels
func (c *Controller) ApplyPointer(dx, dy float64) {
	if c.viewportH <= 0 {
		return
	}

	c.cur.Azimuth -= 2 * math.Pi * dx / c.viewportH * c.cfg.RotateSpeed
	c.cur.Polar -= 2 * math.Pi * dy / c.viewportH * c.cfg.RotateSpeed
	c.cur = c.clamp(c.cur)
}

// ApplyFace sets the orientation from an absolute screen-space eye x and a
// raw source-frame eye y. Identical input always yields identical state.
func (c *Controller) ApplyFace(screenX int, rawY float64) {
	if c.viewportW <= 0 || c.cfg.FaceYReference <= 0 {
		return
	}

	nx := float64(screenX)/c.viewportW - 0.5
	ny := rawY/c.cfg.FaceYReference - 0.5

	c.cur.Azimuth = c.home.Azimuth + nx*c.cfg.FaceAzimuthSpan
	c.cur.Polar = c.home.Polar + ny*c.cfg.FacePolarSpan
	c.cur = c.clamp(c.cur)
}

// ApplyDolly scales the orbit radius, e.g. 0.9 moves 10% closer
func (c *Controller) ApplyDolly(scale float64) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return
	}
	c.cur.Radius *= scale
	c.cur = c.clamp(c.cur)
}

// Reset returns to the home pose
func (c *Controller) Reset() {
	c.cur = c.home
}

// Eye returns the current camera position
func (c *Controller) Eye() r3.Vector {
	return c.cur.Position()
}

// State returns the current spherical state
func (c *Controller) State() State {
	return c.cur
}

// Home returns the home pose
func (c *Controller) Home() State {
	return c.home
}

func (c *Controller) clamp(s State) State {
	s.Azimuth = coords.Clamp(s.Azimuth, c.cfg.MinAzimuth, c.cfg.MaxAzimuth)

	minPolar := math.Max(c.cfg.MinPolar, poleEpsilon)
	maxPolar := math.Min(c.cfg.MaxPolar, math.Pi-poleEpsilon)
	s.Polar = coords.Clamp(s.Polar, minPolar, maxPolar)

	s.Radius = coords.Clamp(s.Radius, c.cfg.MinDistance, c.cfg.MaxDistance)
	return s
}
