// Package capture provides video frame sources for pose estimation
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned when a capture device cannot be opened
var ErrUnavailable = errors.New("capture: device unavailable")

// Kind selects a capture backend
type Kind string

const (
	KindWebcam   Kind = "webcam"
	KindSnapshot Kind = "snapshot"
	KindWebRTC   Kind = "webrtc"
	KindMock     Kind = "mock"
)

// Frame represents a captured video frame
type Frame struct {
	Data      []byte    // JPEG encoded
	Width     int       // Actual width
	Height    int       // Actual height
	Timestamp time.Time // Capture time
	FrameID   uint64    // Sequential frame ID, starts at 1
}

// Source produces video frames in the background
type Source interface {
	// Start begins capturing; it returns once the device is open
	Start(ctx context.Context) error

	// LatestFrame returns the newest frame without blocking
	LatestFrame() (Frame, bool)

	// Stats returns capture counters
	Stats() Stats

	// Healthy reports whether recent captures succeeded
	Healthy() bool

	// Name identifies the backend
	Name() string

	// Close stops capturing and releases the device
	Close() error
}

// Config holds capture configuration
type Config struct {
	Kind          Kind
	Device        int           // Webcam device index
	Width         int           // Desired width (0 = native)
	Height        int           // Desired height (0 = native)
	Framerate     int           // Target frames per second
	Quality       int           // JPEG quality (1-100)
	SnapshotURL   string        // Full URL of a JPEG snapshot endpoint
	SignallingURL string        // WebRTC signalling websocket
	Producer      string        // WebRTC producer name to subscribe to
	Timeout       time.Duration // Request/connect timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Kind:          KindWebcam,
		Device:        0,
		Width:         640,
		Height:        480,
		Framerate:     30,
		Quality:       80,
		SnapshotURL:   "http://localhost:8000/api/video/snapshot",
		SignallingURL: "ws://localhost:8443",
		Producer:      "portal",
		Timeout:       2 * time.Second,
	}
}

// Open builds the source selected by cfg.Kind without starting it
func Open(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Kind {
	case KindWebcam:
		return NewWebcam(cfg, logger), nil
	case KindSnapshot:
		return NewSnapshotClient(cfg, logger), nil
	case KindWebRTC:
		return NewWebRTCClient(cfg, logger), nil
	case KindMock:
		return NewMockSource(cfg.Width, cfg.Height), nil
	default:
		return nil, fmt.Errorf("unknown capture kind %q", cfg.Kind)
	}
}

// Stats contains capture statistics
type Stats struct {
	FramesCaptured    uint64 `json:"frames_captured"`
	FrameErrors       uint64 `json:"frame_errors"`
	ConsecutiveErrors int64  `json:"consecutive_errors"`
	Running           bool   `json:"running"`
}

const maxConsecutiveErrors = 10

// frameStore keeps the latest frame and counters shared by all backends
type frameStore struct {
	mu   sync.RWMutex
	last *Frame

	nextID      atomic.Uint64
	captured    atomic.Uint64
	errors      atomic.Uint64
	consecutive atomic.Int64
	running     atomic.Bool
}

func (s *frameStore) put(data []byte, width, height int) Frame {
	frame := Frame{
		Data:      data,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
		FrameID:   s.nextID.Add(1),
	}

	s.mu.Lock()
	s.last = &frame
	s.mu.Unlock()

	s.captured.Add(1)
	s.consecutive.Store(0)
	return frame
}

func (s *frameStore) fail() {
	s.errors.Add(1)
	s.consecutive.Add(1)
}

func (s *frameStore) latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return Frame{}, false
	}
	return *s.last, true
}

func (s *frameStore) healthy() bool {
	return s.running.Load() && s.consecutive.Load() < maxConsecutiveErrors
}

func (s *frameStore) stats() Stats {
	return Stats{
		FramesCaptured:    s.captured.Load(),
		FrameErrors:       s.errors.Load(),
		ConsecutiveErrors: s.consecutive.Load(),
		Running:           s.running.Load(),
	}
}

func frameInterval(framerate int) time.Duration {
	if framerate <= 0 {
		framerate = 30
	}
	return time.Second / time.Duration(framerate)
}
