// Package face converts pose estimates into a screen-space eye position
package face

import (
	"sync/atomic"

	"github.com/teslashibe/go-portal/internal/coords"
	"github.com/teslashibe/go-portal/internal/pose"
)

// ConfidenceGate is the left eye score an estimate must exceed
const ConfidenceGate = 0.7

// EyePosition is the virtual eye in display space. X is mirrored and
// scaled to the display width; Y is the raw source-frame value.
type EyePosition struct {
	X        int     `json:"x"`
	Y        float64 `json:"y"`
	RightX   int     `json:"right_x,omitempty"`
	HasRight bool    `json:"has_right"`
	Score    float64 `json:"score"`
}

// Extract reads the first estimate's left eye. It returns false when there
// is no estimate, no left eye, the eye score is at or below the gate, or
// the video width is zero.
func Extract(estimates []pose.Estimate, videoWidth, displayWidth float64) (EyePosition, bool) {
	first, present := pose.Result{Estimates: estimates}.Primary()
	return extract(first, present, videoWidth, displayWidth, ConfidenceGate)
}

func extract(first pose.Estimate, present bool, videoWidth, displayWidth, gate float64) (EyePosition, bool) {
	if !present {
		return EyePosition{}, false
	}

	left, ok := first.Keypoint(pose.LeftEye)
	if !ok || left.Score <= gate {
		return EyePosition{}, false
	}

	x, err := mirror(left.X, videoWidth, displayWidth)
	if err != nil {
		return EyePosition{}, false
	}

	eye := EyePosition{X: x, Y: left.Y, Score: left.Score}

	if right, ok := first.Keypoint(pose.RightEye); ok {
		if rx, err := mirror(right.X, videoWidth, displayWidth); err == nil {
			eye.RightX = rx
			eye.HasRight = true
		}
	}

	return eye, true
}

// mirror scales x from video to display space and flips it horizontally
func mirror(x, videoWidth, displayWidth float64) (int, error) {
	scaled, err := coords.Scale(x, coords.Range{0, videoWidth}, coords.Range{0, displayWidth})
	if err != nil {
		return 0, err
	}
	return int(displayWidth) - scaled, nil
}

// Extractor wraps Extract with a configurable gate and outcome counters
type Extractor struct {
	gate float64

	accepted atomic.Uint64
	gated    atomic.Uint64
	missing  atomic.Uint64
}

// NewExtractor creates an extractor; a gate <= 0 selects ConfidenceGate
func NewExtractor(gate float64) *Extractor {
	if gate <= 0 {
		gate = ConfidenceGate
	}
	return &Extractor{gate: gate}
}

// Extract reads the primary estimate of r and records the outcome
func (e *Extractor) Extract(r pose.Result, videoWidth, displayWidth float64) (EyePosition, bool) {
	first, present := r.Primary()
	eye, ok := extract(first, present, videoWidth, displayWidth, e.gate)
	switch {
	case ok:
		e.accepted.Add(1)
	case present && hasLeftEye(first):
		e.gated.Add(1)
	default:
		e.missing.Add(1)
	}
	return eye, ok
}

func hasLeftEye(est pose.Estimate) bool {
	_, ok := est.Keypoint(pose.LeftEye)
	return ok
}

// Stats returns extraction counters
func (e *Extractor) Stats() Stats {
	return Stats{
		Gate:     e.gate,
		Accepted: e.accepted.Load(),
		Gated:    e.gated.Load(),
		Missing:  e.missing.Load(),
	}
}

// Stats contains extractor statistics
type Stats struct {
	Gate     float64 `json:"gate"`
	Accepted uint64  `json:"accepted"`
	Gated    uint64  `json:"gated"`
	Missing  uint64  `json:"missing"`
}
