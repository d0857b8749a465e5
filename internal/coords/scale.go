// Package coords maps values between linear ranges
package coords

import (
	"errors"
	"math"
)

// ErrEmptyRange is returned when the source range has zero width
var ErrEmptyRange = errors.New("coords: source range has zero width")

// Range is a closed interval given as [start, end]
type Range [2]float64

// Lo returns the smaller bound
func (r Range) Lo() float64 { return math.Min(r[0], r[1]) }

// Hi returns the larger bound
func (r Range) Hi() float64 { return math.Max(r[0], r[1]) }

// Width returns end minus start
func (r Range) Width() float64 { return r[1] - r[0] }

// Scale clamps value into from, maps it linearly onto to and truncates the
// result toward zero.
func Scale(value float64, from, to Range) (int, error) {
	if from[0] == from[1] {
		return 0, ErrEmptyRange
	}

	clamped := Clamp(value, from.Lo(), from.Hi())
	capped := clamped - from[0]
	factor := to.Width() / from.Width()

	return int(math.Trunc(capped*factor + to[0])), nil
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
