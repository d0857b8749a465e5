package capture

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"
)

// MockSource emits a synthetic frame on every LatestFrame call
type MockSource struct {
	mu      sync.Mutex
	width   int
	height  int
	data    []byte
	frameID uint64
	healthy bool
	running bool
	failed  error
}

// NewMockSource creates a mock source producing width x height frames
func NewMockSource(width, height int) *MockSource {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	data, _ := EncodeJPEG(img, 60)

	return &MockSource{
		width:   width,
		height:  height,
		data:    data,
		healthy: true,
	}
}

// Name implements Source
func (m *MockSource) Name() string { return "mock" }

// Start implements Source
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failed != nil {
		return m.failed
	}
	m.running = true
	return nil
}

// LatestFrame returns a new frame id on every call while running
func (m *MockSource) LatestFrame() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return Frame{}, false
	}

	m.frameID++
	return Frame{
		Data:      m.data,
		Width:     m.width,
		Height:    m.height,
		Timestamp: time.Now(),
		FrameID:   m.frameID,
	}, true
}

// Stats implements Source
func (m *MockSource) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{FramesCaptured: m.frameID, Running: m.running}
}

// Healthy implements Source
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Close implements Source
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// SetHealthy sets the health status
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// SetStartError makes the next Start call fail with err
func (m *MockSource) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = err
}

// Running reports whether the source has been started and not closed
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
