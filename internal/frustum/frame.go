// Package frustum computes off-axis projections for a fixed window frame
package frustum

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ErrDegenerateFrame is returned for collinear or skewed frame corners
var ErrDegenerateFrame = errors.New("frustum: degenerate window frame")

// PerpendicularTolerance bounds |cos| between the bottom and left edges
const PerpendicularTolerance = 1e-3

// Frame is the physical window in world units. The top-right corner is
// implied by TopLeft + (BottomRight - BottomLeft).
type Frame struct {
	BottomLeft  r3.Vector `json:"bottom_left"`
	BottomRight r3.Vector `json:"bottom_right"`
	TopLeft     r3.Vector `json:"top_left"`
}

// DesktopFrame is the frame used for pointer driven desktop displays
func DesktopFrame() Frame {
	return Frame{
		BottomLeft:  r3.Vector{X: -50, Y: 0, Z: -30},
		BottomRight: r3.Vector{X: 50, Y: 0, Z: -30},
		TopLeft:     r3.Vector{X: -50, Y: 100, Z: -30},
	}
}

// TouchFrame is the frame used for touchscreen devices
func TouchFrame() Frame {
	return Frame{
		BottomLeft:  r3.Vector{X: -50, Y: 0, Z: -20},
		BottomRight: r3.Vector{X: 50, Y: 0, Z: -20},
		TopLeft:     r3.Vector{X: -50, Y: 100, Z: -20},
	}
}

// TopRight returns the implied fourth corner
func (f Frame) TopRight() r3.Vector {
	return f.TopLeft.Add(f.BottomRight.Sub(f.BottomLeft))
}

// Basis returns the unit right, up and normal vectors of the frame plane
func (f Frame) Basis() (right, up, normal r3.Vector) {
	right = f.BottomRight.Sub(f.BottomLeft).Normalize()
	up = f.TopLeft.Sub(f.BottomLeft).Normalize()
	normal = right.Cross(up).Normalize()
	return right, up, normal
}

// Width returns the length of the bottom edge
func (f Frame) Width() float64 { return f.BottomRight.Sub(f.BottomLeft).Norm() }

// Height returns the length of the left edge
func (f Frame) Height() float64 { return f.TopLeft.Sub(f.BottomLeft).Norm() }

// Corners returns the four corners counter-clockwise from bottom-left
func (f Frame) Corners() [4]r3.Vector {
	return [4]r3.Vector{f.BottomLeft, f.BottomRight, f.TopRight(), f.TopLeft}
}

// Validate checks that the corners span a rectangle
func (f Frame) Validate() error {
	w, h := f.Width(), f.Height()
	if w == 0 || h == 0 || math.IsNaN(w) || math.IsNaN(h) {
		return fmt.Errorf("%w: zero length edge", ErrDegenerateFrame)
	}

	right, up, _ := f.Basis()
	if cos := math.Abs(right.Dot(up)); cos > PerpendicularTolerance {
		if 1-cos < 1e-12 {
			return fmt.Errorf("%w: corners are collinear", ErrDegenerateFrame)
		}
		return fmt.Errorf("%w: edges not perpendicular (cos %.4f)", ErrDegenerateFrame, cos)
	}
	return nil
}
