package pose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-portal/internal/capture"
)

// Config configures a pose source
type Config struct {
	MaxConsecutiveErrors int
	ShutdownTimeout      time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveErrors: 5,
		ShutdownTimeout:      2 * time.Second,
	}
}

// Source hands out the latest completed estimate without blocking and keeps
// at most one inference in flight
type Source struct {
	frames    capture.Source
	estimator Estimator
	cfg       Config
	logger    *slog.Logger
	disabled  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// reqMu orders request launches against Close
	reqMu  sync.Mutex
	closed bool

	inFlight      atomic.Bool
	lastSubmitted uint64 // owned by whoever holds inFlight

	mu                sync.RWMutex
	latest            Result
	seq               uint64
	consecutiveErrors int
	healthy           bool

	requests       atomic.Uint64
	completed      atomic.Uint64
	skipped        atomic.Uint64
	failures       atomic.Uint64
	totalLatencyMs atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewSource creates a source reading frames from an already started capture
func NewSource(frames capture.Source, estimator Estimator, cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultConfig().MaxConsecutiveErrors
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		frames:    frames,
		estimator: estimator,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		healthy:   true,
	}
}

// NewDisabledSource returns a source that always yields an empty result
func NewDisabledSource(reason error, logger *slog.Logger) *Source {
	s := NewSource(nil, nil, DefaultConfig(), logger)
	s.disabled = reason
	s.healthy = false
	return s
}

// Setup starts frames and the estimator. Any failure is logged once and a
// disabled source is returned instead; it never returns nil.
func Setup(ctx context.Context, frames capture.Source, open func() (Estimator, error), cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	estimator, err := open()
	if err != nil {
		err = fmt.Errorf("open estimator: %w", err)
		logger.Warn("face tracking unavailable, pointer control only", "error", err)
		frames.Close()
		return NewDisabledSource(err, logger)
	}

	if err := frames.Start(ctx); err != nil {
		err = fmt.Errorf("start %s capture: %w", frames.Name(), err)
		logger.Warn("face tracking unavailable, pointer control only", "error", err)
		estimator.Close()
		frames.Close()
		return NewDisabledSource(err, logger)
	}

	logger.Info("pose source ready",
		"capture", frames.Name(),
		"estimator", estimator.Name(),
	)
	return NewSource(frames, estimator, cfg, logger)
}

// Latest returns the most recently completed result and, if no inference
// is running and a newer frame exists, starts one in the background
func (s *Source) Latest() Result {
	if s.disabled == nil {
		s.maybeRequest()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Source) maybeRequest() {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	if s.closed {
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return
	}

	frame, ok := s.frames.LatestFrame()
	if !ok || frame.FrameID == s.lastSubmitted {
		s.inFlight.Store(false)
		return
	}

	s.lastSubmitted = frame.FrameID
	s.requests.Add(1)
	s.wg.Add(1)
	go s.infer(frame)
}

func (s *Source) infer(frame capture.Frame) {
	defer s.wg.Done()
	defer s.inFlight.Store(false)

	start := time.Now()
	estimates, err := s.estimator.Estimate(s.ctx, frame)
	latency := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.failures.Add(1)
		s.consecutiveErrors++
		if s.consecutiveErrors == s.cfg.MaxConsecutiveErrors {
			s.healthy = false
			s.logger.Warn("pose estimation failing",
				"estimator", s.estimator.Name(),
				"consecutive_errors", s.consecutiveErrors,
				"error", err,
			)
		} else {
			s.logger.Debug("pose estimation error", "error", err)
		}
		return
	}

	if !s.healthy {
		s.logger.Info("pose estimation recovered", "estimator", s.estimator.Name())
	}
	s.healthy = true
	s.consecutiveErrors = 0

	s.seq++
	s.latest = Result{
		Seq:         s.seq,
		FrameID:     frame.FrameID,
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		Estimates:   estimates,
		LatencyMs:   latency.Milliseconds(),
		Timestamp:   time.Now(),
	}

	s.completed.Add(1)
	s.totalLatencyMs.Add(latency.Milliseconds())
}

// Healthy reports whether tracking is enabled and inference is succeeding
func (s *Source) Healthy() bool {
	if s.disabled != nil {
		return false
	}

	s.mu.RLock()
	healthy := s.healthy
	s.mu.RUnlock()

	return healthy && s.frames.Healthy()
}

// Err returns the setup failure of a disabled source
func (s *Source) Err() error { return s.disabled }

// InFlight reports whether an inference is running
func (s *Source) InFlight() bool { return s.inFlight.Load() }

// Stats returns source statistics
func (s *Source) Stats() Stats {
	stats := Stats{
		Enabled:   s.disabled == nil,
		Requests:  s.requests.Load(),
		Completed: s.completed.Load(),
		Skipped:   s.skipped.Load(),
		Errors:    s.failures.Load(),
		InFlight:  s.inFlight.Load(),
		Healthy:   s.Healthy(),
	}

	if stats.Completed > 0 {
		stats.AvgLatencyMs = float64(s.totalLatencyMs.Load()) / float64(stats.Completed)
	}
	if s.disabled != nil {
		stats.Reason = s.disabled.Error()
		return stats
	}

	stats.Estimator = s.estimator.Name()
	stats.Capture = s.frames.Name()
	stats.Frames = s.frames.Stats()
	if r, ok := s.estimator.(*RemoteEstimator); ok {
		rs := r.Stats()
		stats.Remote = &rs
	}
	return stats
}

// Stats contains pose source statistics
type Stats struct {
	Enabled      bool          `json:"enabled"`
	Reason       string        `json:"reason,omitempty"`
	Estimator    string        `json:"estimator,omitempty"`
	Capture      string        `json:"capture,omitempty"`
	Requests     uint64        `json:"requests"`
	Completed    uint64        `json:"completed"`
	Skipped      uint64        `json:"skipped"`
	Errors       uint64        `json:"errors"`
	InFlight     bool          `json:"in_flight"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
	Healthy      bool          `json:"healthy"`
	Frames       capture.Stats `json:"frames"`
	Remote       *RemoteStats  `json:"remote,omitempty"` // Set for the remote estimator
}

// Close stops new requests, waits for the in-flight inference and releases
// the estimator and capture device
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.reqMu.Lock()
		s.closed = true
		s.reqMu.Unlock()

		s.cancel()

		if s.disabled != nil {
			return
		}

		var errs []error
		if waitTimeout(&s.wg, s.cfg.ShutdownTimeout) {
			if err := s.estimator.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close estimator: %w", err))
			}
		} else {
			s.logger.Warn("inference still running at shutdown, estimator left open",
				"timeout", s.cfg.ShutdownTimeout,
			)
		}

		if err := s.frames.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}

		s.closeErr = errors.Join(errs...)
		s.logger.Info("pose source stopped",
			"requests", s.requests.Load(),
			"completed", s.completed.Load(),
			"errors", s.failures.Load(),
		)
	})
	return s.closeErr
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
