package frustum

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

var (
	// ErrEyeBehindFrame is returned when the eye is on or behind the frame plane
	ErrEyeBehindFrame = errors.New("frustum: eye is not in front of the frame")

	// ErrInvalidClip is returned for non-positive near or far <= near
	ErrInvalidClip = errors.New("frustum: invalid clip planes")

	// ErrSingular is returned when the resulting matrix is unusable
	ErrSingular = errors.New("frustum: singular projection")
)

// Bounds are the frustum extents on the near plane
type Bounds struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Top    float64 `json:"top"`
	Near   float64 `json:"near"`
	Far    float64 `json:"far"`
}

// Aspect returns width over height of the bounds
func (b Bounds) Aspect() float64 {
	return (b.Right - b.Left) / (b.Top - b.Bottom)
}

// Projection is the per-tick camera for one eye position
type Projection struct {
	Matrix   Mat4      `json:"matrix"`
	View     Mat4      `json:"view"`
	Bounds   Bounds    `json:"bounds"`
	Distance float64   `json:"distance"` // Eye to frame plane
	Eye      r3.Vector `json:"eye"`
	Aspect   float64   `json:"aspect"` // Viewport aspect the projection was built for
}

// ViewProjection returns Matrix·View
func (p Projection) ViewProjection() Mat4 {
	return p.Matrix.Mul(p.View)
}

// Project computes the off-axis projection that maps the frame exactly onto
// the near plane as seen from eye
func Project(eye r3.Vector, frame Frame, near, far float64) (Projection, error) {
	if !(near > 0) || !(far > near) || math.IsInf(far, 0) {
		return Projection{}, fmt.Errorf("%w: near %v far %v", ErrInvalidClip, near, far)
	}
	if err := frame.Validate(); err != nil {
		return Projection{}, err
	}

	vr, vu, vn := frame.Basis()

	va := frame.BottomLeft.Sub(eye)
	vb := frame.BottomRight.Sub(eye)
	vc := frame.TopLeft.Sub(eye)

	d := -va.Dot(vn)
	if !(d > 0) {
		return Projection{}, fmt.Errorf("%w: distance %v", ErrEyeBehindFrame, d)
	}

	scale := near / d
	bounds := Bounds{
		Left:   vr.Dot(va) * scale,
		Right:  vr.Dot(vb) * scale,
		Bottom: vu.Dot(va) * scale,
		Top:    vu.Dot(vc) * scale,
		Near:   near,
		Far:    far,
	}

	return finish(eye, vr, vu, vn, bounds, d)
}

func finish(eye, vr, vu, vn r3.Vector, bounds Bounds, d float64) (Projection, error) {
	p := Projection{
		Matrix:   OffAxis(bounds),
		View:     viewMatrix(eye, vr, vu, vn),
		Bounds:   bounds,
		Distance: d,
		Eye:      eye,
		Aspect:   bounds.Aspect(),
	}

	if !p.Matrix.Finite() || !p.View.Finite() {
		return Projection{}, fmt.Errorf("%w: non-finite entries", ErrSingular)
	}
	if det := p.Matrix.Det(); det == 0 || math.IsNaN(det) {
		return Projection{}, fmt.Errorf("%w: zero determinant", ErrSingular)
	}
	return p, nil
}

// viewMatrix places the camera at eye with the frame basis as its axes,
// looking along -normal
func viewMatrix(eye, vr, vu, vn r3.Vector) Mat4 {
	return Mat4{
		vr.X, vu.X, vn.X, 0,
		vr.Y, vu.Y, vn.Y, 0,
		vr.Z, vu.Z, vn.Z, 0,
		-vr.Dot(eye), -vu.Dot(eye), -vn.Dot(eye), 1,
	}
}

// FitMode controls how the frame maps onto a viewport of another aspect
type FitMode string

const (
	// FitStretch maps the frame onto the whole viewport
	FitStretch FitMode = "stretch"

	// FitContain keeps the frame undistorted and extends the visible
	// region beyond it on the longer viewport axis
	FitContain FitMode = "contain"
)

// Projector binds a frame and clip planes
type Projector struct {
	Frame Frame
	Near  float64
	Far   float64
	Fit   FitMode
}

// Project computes the projection for eye on a viewport of the given aspect
func (p Projector) Project(eye r3.Vector, aspect float64) (Projection, error) {
	proj, err := Project(eye, p.Frame, p.Near, p.Far)
	if err != nil {
		return Projection{}, err
	}

	if p.Fit == FitContain && aspect > 0 && !math.IsInf(aspect, 0) {
		vr, vu, vn := p.Frame.Basis()
		proj, err = finish(eye, vr, vu, vn, contain(proj.Bounds, aspect), proj.Distance)
		if err != nil {
			return Projection{}, err
		}
	}

	if aspect > 0 {
		proj.Aspect = aspect
	}
	return proj, nil
}

// contain widens b about its centre until its aspect matches aspect
func contain(b Bounds, aspect float64) Bounds {
	w := b.Right - b.Left
	h := b.Top - b.Bottom
	cx := (b.Left + b.Right) / 2
	cy := (b.Bottom + b.Top) / 2

	if aspect > w/h {
		w = h * aspect
	} else {
		h = w / aspect
	}

	b.Left, b.Right = cx-w/2, cx+w/2
	b.Bottom, b.Top = cy-h/2, cy+h/2
	return b
}
