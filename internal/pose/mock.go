package pose

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-portal/internal/capture"
)

// MockEstimator returns canned estimates, optionally after a delay
type MockEstimator struct {
	mu        sync.Mutex
	estimates []Estimate
	err       error
	delay     time.Duration
	calls     int
	active    int
	maxActive int
	closed    bool

	wave      bool
	waveStart time.Time
	period    time.Duration
}

// NewMockEstimator creates a mock returning the given estimates
func NewMockEstimator(estimates ...Estimate) *MockEstimator {
	return &MockEstimator{estimates: estimates}
}

// NewMockEstimatorWithWave creates a mock whose left eye sweeps across the
// frame, for demos without a camera
func NewMockEstimatorWithWave(period time.Duration) *MockEstimator {
	if period <= 0 {
		period = 8 * time.Second
	}
	return &MockEstimator{
		wave:      true,
		waveStart: time.Now(),
		period:    period,
	}
}

// Name implements Estimator
func (m *MockEstimator) Name() string { return "mock" }

// Estimate implements Estimator
func (m *MockEstimator) Estimate(ctx context.Context, frame capture.Frame) ([]Estimate, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("estimator closed")
	}
	m.calls++
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	delay := m.delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if m.wave {
		return []Estimate{m.waveEstimate(frame)}, nil
	}
	return append([]Estimate(nil), m.estimates...), nil
}

func (m *MockEstimator) waveEstimate(frame capture.Frame) Estimate {
	w, h := float64(frame.Width), float64(frame.Height)
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}

	phase := 2 * math.Pi * float64(time.Since(m.waveStart)) / float64(m.period)
	x := w/2 + w/4*math.Sin(phase)
	y := h/2 + h/8*math.Sin(phase/2)
	return EyeEstimate(x, y, 0.9)
}

// Close implements Estimator
func (m *MockEstimator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetEstimates replaces the canned estimates
func (m *MockEstimator) SetEstimates(estimates ...Estimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimates = estimates
}

// SetError makes Estimate fail with err (nil clears it)
func (m *MockEstimator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay sets an artificial inference latency
func (m *MockEstimator) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times Estimate was invoked
func (m *MockEstimator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MaxConcurrent returns the highest number of overlapping Estimate calls
func (m *MockEstimator) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Closed reports whether Close was called
func (m *MockEstimator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
