package pose

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-portal/internal/capture"
	"github.com/teslashibe/go-portal/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// poseServer answers every frame with a single face at a fixed position
func poseServer(t *testing.T, reply func(frame protocol.FrameData) protocol.PoseData) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Portal-Session") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			msg, err := protocol.ParseMessage(data)
			if err != nil || msg.Type != protocol.TypeFrame {
				continue
			}

			var frame protocol.FrameData
			msg.ParseData(&frame)

			out, _ := protocol.NewMessage(protocol.TypePose, reply(frame))
			b, _ := out.Bytes()
			conn.WriteMessage(websocket.TextMessage, b)
		}
	}))
}

func connectRemote(t *testing.T, url string) *RemoteEstimator {
	t.Helper()

	cfg := DefaultRemoteConfig()
	cfg.URL = "ws" + strings.TrimPrefix(url, "http")
	cfg.ReconnectBackoff = 50 * time.Millisecond

	r := NewRemoteEstimator(cfg, nil)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !r.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !r.IsConnected() {
		t.Fatal("remote estimator did not connect")
	}
	return r
}

func TestRemoteEstimate(t *testing.T) {
	server := poseServer(t, func(frame protocol.FrameData) protocol.PoseData {
		return protocol.PoseData{
			FrameID: frame.FrameID,
			Estimates: []protocol.EstimateData{
				{Score: 0.4, Keypoints: []protocol.KeypointData{{Name: LeftEye, X: 1, Y: 1, Score: 0.4}}},
				{Score: 0.95, Keypoints: []protocol.KeypointData{{Name: LeftEye, X: 320, Y: 200, Score: 0.95}}},
			},
		}
	})
	defer server.Close()

	r := connectRemote(t, server.URL)
	defer r.Close()

	estimates, err := r.Estimate(context.Background(), capture.Frame{Data: []byte{0xFF, 0xD8}, Width: 640, Height: 480, FrameID: 3})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}

	if len(estimates) != 2 {
		t.Fatalf("got %d estimates, want 2", len(estimates))
	}
	kp, _ := estimates[0].Keypoint(LeftEye)
	if kp.X != 320 {
		t.Errorf("highest scoring face should come first, got left eye %+v", kp)
	}

	stats := r.Stats()
	if stats.MessagesSent == 0 || stats.MessagesReceived == 0 || stats.SessionID == "" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRemoteEstimateServiceError(t *testing.T) {
	server := poseServer(t, func(frame protocol.FrameData) protocol.PoseData {
		return protocol.PoseData{FrameID: frame.FrameID, Error: "gpu busy"}
	})
	defer server.Close()

	r := connectRemote(t, server.URL)
	defer r.Close()

	_, err := r.Estimate(context.Background(), capture.Frame{FrameID: 1})
	if err == nil || !strings.Contains(err.Error(), "gpu busy") {
		t.Errorf("Estimate() error = %v, want service error", err)
	}
}

func TestRemoteEstimateNotConnected(t *testing.T) {
	r := NewRemoteEstimator(DefaultRemoteConfig(), nil)

	_, err := r.Estimate(context.Background(), capture.Frame{FrameID: 1})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Estimate() error = %v, want ErrNotConnected", err)
	}
}

func TestRemoteEstimateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	r := connectRemote(t, server.URL)
	r.cfg.RequestTimeout = 50 * time.Millisecond
	defer r.Close()

	start := time.Now()
	if _, err := r.Estimate(context.Background(), capture.Frame{FrameID: 9}); err == nil {
		t.Error("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("timeout took too long")
	}
}

func TestRemoteConnectEmptyURL(t *testing.T) {
	cfg := DefaultRemoteConfig()
	cfg.URL = ""
	if err := NewRemoteEstimator(cfg, nil).Connect(context.Background()); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestRemoteAnswersPing(t *testing.T) {
	pongs := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ping, _ := protocol.NewMessage(protocol.TypePing, nil)
		b, _ := ping.Bytes()
		conn.WriteMessage(websocket.TextMessage, b)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := protocol.ParseMessage(data); err == nil && msg.Type == protocol.TypePong {
				pongs <- struct{}{}
			}
		}
	}))
	defer server.Close()

	cfg := DefaultRemoteConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	r := NewRemoteEstimator(cfg, nil)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer r.Close()

	select {
	case <-pongs:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestRemotePongWriteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := NewRemoteEstimator(DefaultRemoteConfig(), logger)

	ping, _ := protocol.NewMessage(protocol.TypePing, nil)
	data, _ := ping.Bytes()
	r.handleMessage(data)

	if !strings.Contains(buf.String(), "pong write failed") {
		t.Errorf("expected pong write failure in log, got %q", buf.String())
	}
}

func TestSourceReportsRemoteStats(t *testing.T) {
	server := poseServer(t, func(frame protocol.FrameData) protocol.PoseData {
		return protocol.PoseData{
			FrameID:   frame.FrameID,
			Estimates: []protocol.EstimateData{{Score: 0.9, Keypoints: []protocol.KeypointData{{Name: LeftEye, X: 100, Y: 100, Score: 0.9}}}},
		}
	})
	defer server.Close()

	s := NewSource(startedMock(t), connectRemote(t, server.URL), DefaultConfig(), nil)
	defer s.Close()

	waitForSeq(t, s, 1)

	stats := s.Stats()
	if stats.Remote == nil {
		t.Fatal("expected remote stats for the remote estimator")
	}
	if !stats.Remote.Connected || stats.Remote.MessagesSent == 0 || stats.Remote.SessionID == "" {
		t.Errorf("remote stats = %+v", *stats.Remote)
	}

	local := NewSource(startedMock(t), NewMockEstimator(), DefaultConfig(), nil)
	defer local.Close()
	if local.Stats().Remote != nil {
		t.Error("local estimator should not report remote stats")
	}
}
