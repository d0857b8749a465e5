// Package pose turns captured video frames into face keypoint estimates
package pose

import (
	"context"
	"time"

	"github.com/teslashibe/go-portal/internal/capture"
)

// Keypoint names produced by every estimator
const (
	LeftEye    = "left_eye"
	RightEye   = "right_eye"
	Nose       = "nose"
	MouthLeft  = "mouth_left"
	MouthRight = "mouth_right"
)

// Keypoint is a named landmark in source-frame pixels
type Keypoint struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Estimate holds the keypoints of one subject
type Estimate struct {
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

// Keypoint looks up a keypoint by name
func (e Estimate) Keypoint(name string) (Keypoint, bool) {
	for _, kp := range e.Keypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Result is the outcome of one completed inference
type Result struct {
	Seq         uint64     `json:"seq"` // 0 until the first inference completes
	FrameID     uint64     `json:"frame_id"`
	FrameWidth  int        `json:"frame_width"`
	FrameHeight int        `json:"frame_height"`
	Estimates   []Estimate `json:"estimates"`
	LatencyMs   int64      `json:"latency_ms"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Primary returns the first estimate, if any
func (r Result) Primary() (Estimate, bool) {
	if len(r.Estimates) == 0 {
		return Estimate{}, false
	}
	return r.Estimates[0], true
}

// Estimator runs keypoint inference on a single frame
type Estimator interface {
	// Estimate returns zero or more subjects ordered by descending score
	Estimate(ctx context.Context, frame capture.Frame) ([]Estimate, error)

	// Name identifies the backend
	Name() string

	// Close releases the model
	Close() error
}

// EyeEstimate builds a face estimate with a left eye at (x, y) and a
// right eye 60px to its left in the frame
func EyeEstimate(x, y, score float64) Estimate {
	return Estimate{
		Score: score,
		Keypoints: []Keypoint{
			{Name: RightEye, X: x - 60, Y: y, Score: score},
			{Name: LeftEye, X: x, Y: y, Score: score},
			{Name: Nose, X: x - 30, Y: y + 40, Score: score},
		},
	}
}
