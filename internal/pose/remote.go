package pose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-portal/internal/capture"
	"github.com/teslashibe/go-portal/internal/protocol"
)

// ErrNotConnected is returned when the pose service link is down
var ErrNotConnected = errors.New("pose service not connected")

// RemoteConfig configures the websocket pose service client
type RemoteConfig struct {
	URL              string        // e.g. ws://localhost:8090/ws/pose
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Keepalive interval
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration // 0 waits until the link drops
}

// DefaultRemoteConfig returns sensible defaults
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		URL:              "ws://localhost:8090/ws/pose",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		RequestTimeout:   2 * time.Second,
	}
}

// RemoteEstimator sends frames to an inference service over a websocket
// and waits for the matching pose reply
type RemoteEstimator struct {
	cfg       RemoteConfig
	logger    *slog.Logger
	sessionID string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	pendingMu sync.Mutex
	pending   map[uint64]chan *protocol.PoseData

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	reconnects       atomic.Uint64
}

// NewRemoteEstimator creates a client; call Connect to start it
func NewRemoteEstimator(cfg RemoteConfig, logger *slog.Logger) *RemoteEstimator {
	if logger == nil {
		logger = slog.Default()
	}

	return &RemoteEstimator{
		cfg:       cfg,
		logger:    logger,
		sessionID: uuid.New().String(),
		pending:   make(map[uint64]chan *protocol.PoseData),
	}
}

// Name implements Estimator
func (r *RemoteEstimator) Name() string { return "remote" }

// Connect starts the connection loop in the background
func (r *RemoteEstimator) Connect(ctx context.Context) error {
	if r.cfg.URL == "" {
		return fmt.Errorf("pose service url is empty")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go r.connectionLoop(ctx)
	return nil
}

// connectionLoop manages the connection with auto-reconnect
func (r *RemoteEstimator) connectionLoop(ctx context.Context) {
	backoff := r.cfg.ReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			r.closeConnection()
			return
		default:
		}

		if err := r.connect(ctx); err != nil {
			r.logger.Warn("pose service connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
			r.reconnects.Add(1)
			continue
		}

		backoff = r.cfg.ReconnectBackoff
		r.readLoop(ctx)
	}
}

func (r *RemoteEstimator) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	header := http.Header{}
	header.Set("X-Portal-Session", r.sessionID)

	conn, _, err := dialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.mu.Unlock()

	r.logger.Info("connected to pose service", "url", r.cfg.URL, "session", r.sessionID)

	go r.pingLoop(ctx, conn)
	return nil
}

func (r *RemoteEstimator) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if r.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				r.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (r *RemoteEstimator) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("pose service read error", "error", err)
			}
			r.closeConnection()
			return
		}

		r.messagesReceived.Add(1)
		r.handleMessage(data)
	}
}

func (r *RemoteEstimator) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		r.logger.Warn("parse message error", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypePose:
		pose, err := msg.GetPoseData()
		if err != nil {
			r.logger.Warn("invalid pose message", "error", err)
			return
		}
		r.deliver(pose)

	case protocol.TypePing:
		pong, err := protocol.NewMessage(protocol.TypePong, nil)
		if err != nil {
			r.logger.Debug("pong marshal failed", "error", err)
			return
		}
		if err := r.send(pong); err != nil {
			r.logger.Debug("pong write failed", "error", err)
		}
	}
}

func (r *RemoteEstimator) deliver(pose *protocol.PoseData) {
	r.pendingMu.Lock()
	ch, ok := r.pending[pose.FrameID]
	if ok {
		delete(r.pending, pose.FrameID)
	}
	r.pendingMu.Unlock()

	if !ok {
		r.logger.Debug("pose reply for unknown frame", "frame_id", pose.FrameID)
		return
	}
	ch <- pose
}

func (r *RemoteEstimator) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected || r.conn == nil {
		return ErrNotConnected
	}

	r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	r.messagesSent.Add(1)
	return nil
}

// Estimate implements Estimator
func (r *RemoteEstimator) Estimate(ctx context.Context, frame capture.Frame) ([]Estimate, error) {
	msg, err := protocol.NewFrameMessage(frame.Width, frame.Height, frame.Data, frame.FrameID)
	if err != nil {
		return nil, err
	}

	reply := make(chan *protocol.PoseData, 1)
	r.pendingMu.Lock()
	r.pending[frame.FrameID] = reply
	r.pendingMu.Unlock()

	defer func() {
		r.pendingMu.Lock()
		delete(r.pending, frame.FrameID)
		r.pendingMu.Unlock()
	}()

	if err := r.send(msg); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if r.cfg.RequestTimeout > 0 {
		timer := time.NewTimer(r.cfg.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case pose, ok := <-reply:
		if !ok {
			return nil, ErrNotConnected
		}
		if pose.Error != "" {
			return nil, fmt.Errorf("pose service: %s", pose.Error)
		}
		return estimatesFromProtocol(pose.Estimates), nil
	case <-timeout:
		return nil, fmt.Errorf("pose reply for frame %d timed out after %v", frame.FrameID, r.cfg.RequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func estimatesFromProtocol(in []protocol.EstimateData) []Estimate {
	out := make([]Estimate, 0, len(in))
	for _, e := range in {
		est := Estimate{Score: e.Score, Keypoints: make([]Keypoint, 0, len(e.Keypoints))}
		for _, kp := range e.Keypoints {
			est.Keypoints = append(est.Keypoints, Keypoint{Name: kp.Name, X: kp.X, Y: kp.Y, Score: kp.Score})
		}
		out = append(out, est)
	}
	sortByScore(out)
	return out
}

// closeConnection drops the socket and fails every waiting request
func (r *RemoteEstimator) closeConnection() {
	r.mu.Lock()
	r.connected = false
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()

	r.pendingMu.Lock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
	r.pendingMu.Unlock()
}

// Close shuts down the client
func (r *RemoteEstimator) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.closeConnection()
	return nil
}

// IsConnected returns connection status
func (r *RemoteEstimator) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// RemoteStats contains client statistics
type RemoteStats struct {
	Connected        bool   `json:"connected"`
	SessionID        string `json:"session_id"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Reconnects       uint64 `json:"reconnects"`
}

// Stats returns client statistics
func (r *RemoteEstimator) Stats() RemoteStats {
	return RemoteStats{
		Connected:        r.IsConnected(),
		SessionID:        r.sessionID,
		MessagesSent:     r.messagesSent.Load(),
		MessagesReceived: r.messagesReceived.Load(),
		Reconnects:       r.reconnects.Load(),
	}
}
