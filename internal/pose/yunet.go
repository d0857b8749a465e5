package pose

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-portal/internal/capture"
)

// YuNetConfig configures the OpenCV face landmark estimator
type YuNetConfig struct {
	ModelPath      string
	InputWidth     int
	InputHeight    int
	ScoreThreshold float64
	NMSThreshold   float64
	TopK           int
}

// DefaultYuNetConfig returns sensible defaults
func DefaultYuNetConfig() YuNetConfig {
	return YuNetConfig{
		ModelPath:      "models/face_detection_yunet_2023mar.onnx",
		InputWidth:     640,
		InputHeight:    480,
		ScoreThreshold: 0.5,
		NMSThreshold:   0.3,
		TopK:           50,
	}
}

// yunetLandmarks lists the landmark columns of a YuNet output row
var yunetLandmarks = [5]struct {
	name string
	col  int
}{
	{RightEye, 4},
	{LeftEye, 6},
	{Nose, 8},
	{MouthRight, 10},
	{MouthLeft, 12},
}

const yunetScoreCol = 14

// YuNetEstimator finds faces with OpenCV's FaceDetectorYN and reports their
// five landmarks as keypoints
type YuNetEstimator struct {
	cfg      YuNetConfig
	mu       sync.Mutex // serialises inference
	detector gocv.FaceDetectorYN
	closed   bool
}

// NewYuNetEstimator loads the ONNX model
func NewYuNetEstimator(cfg YuNetConfig) (*YuNetEstimator, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ScoreThreshold),
		float32(cfg.NMSThreshold),
		cfg.TopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetEstimator{cfg: cfg, detector: detector}, nil
}

// Name implements Estimator
func (y *YuNetEstimator) Name() string { return "yunet" }

// Estimate implements Estimator
func (y *YuNetEstimator) Estimate(ctx context.Context, frame capture.Frame) ([]Estimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil, fmt.Errorf("estimator closed")
	}

	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	y.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()

	y.detector.Detect(img, &faces)

	estimates := make([]Estimate, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		estimates = append(estimates, parseYuNetRow(func(col int) float64 {
			return float64(faces.GetFloatAt(r, col))
		}))
	}

	sortByScore(estimates)
	return estimates, nil
}

// parseYuNetRow converts one 15 column detection into an estimate
func parseYuNetRow(at func(col int) float64) Estimate {
	score := at(yunetScoreCol)

	keypoints := make([]Keypoint, 0, len(yunetLandmarks))
	for _, lm := range yunetLandmarks {
		keypoints = append(keypoints, Keypoint{
			Name:  lm.name,
			X:     at(lm.col),
			Y:     at(lm.col + 1),
			Score: score,
		})
	}

	return Estimate{Score: score, Keypoints: keypoints}
}

func sortByScore(estimates []Estimate) {
	sort.SliceStable(estimates, func(i, j int) bool {
		return estimates[i].Score > estimates[j].Score
	})
}

// Close releases the detector
func (y *YuNetEstimator) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}
	y.closed = true
	y.detector.Close()
	return nil
}
