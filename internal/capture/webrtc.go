package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// WebRTCClient receives an H264 stream through GStreamer webrtcsink
// signalling and decodes keyframes to JPEG with ffmpeg
type WebRTCClient struct {
	cfg    Config
	logger *slog.Logger
	store  frameStore

	ws      *websocket.Conn
	pc      *webrtc.PeerConnection
	wsMutex sync.Mutex

	peerID     string
	producerID string
	sessionID  atomic.Value // string

	trackReady chan struct{}

	lastDecode  time.Time
	minInterval time.Duration

	closed atomic.Bool
}

// signalMessage covers the subset of the signalling protocol we use
type signalMessage struct {
	Type      string          `json:"type"`
	PeerID    string          `json:"peerId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Producers []producerEntry `json:"producers,omitempty"`
	SDP       *sdpPayload     `json:"sdp,omitempty"`
	ICE       *icePayload     `json:"ice,omitempty"`
}

type producerEntry struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// NewWebRTCClient creates a WebRTC capture source
func NewWebRTCClient(cfg Config, logger *slog.Logger) *WebRTCClient {
	if logger == nil {
		logger = slog.Default()
	}

	client := &WebRTCClient{
		cfg:         cfg,
		logger:      logger,
		trackReady:  make(chan struct{}, 1),
		minInterval: frameInterval(cfg.Framerate),
	}
	client.sessionID.Store("")
	return client
}

// Name implements Source
func (c *WebRTCClient) Name() string { return "webrtc" }

// Start connects to the signalling server and waits for the video track
func (c *WebRTCClient) Start(ctx context.Context) error {
	c.logger.Info("connecting to webrtc signalling", "url", c.cfg.SignallingURL)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	ws, _, err := dialer.DialContext(ctx, c.cfg.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("%w: signalling connect: %v", ErrUnavailable, err)
	}
	c.ws = ws

	if err := c.waitForWelcome(); err != nil {
		c.ws.Close()
		return fmt.Errorf("welcome failed: %w", err)
	}

	if err := c.findProducer(); err != nil {
		c.ws.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := c.createPeerConnection(); err != nil {
		c.ws.Close()
		return fmt.Errorf("peer connection failed: %w", err)
	}

	if err := c.send(signalMessage{Type: "startSession", PeerID: c.producerID}); err != nil {
		c.Close()
		return fmt.Errorf("start session failed: %w", err)
	}

	go c.handleSignalling()

	select {
	case <-c.trackReady:
		c.store.running.Store(true)
		c.logger.Info("webrtc video connected", "producer", c.cfg.Producer)
		return nil
	case <-time.After(15 * time.Second):
		c.Close()
		return fmt.Errorf("%w: timeout waiting for video", ErrUnavailable)
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *WebRTCClient) read(deadline time.Duration) (signalMessage, error) {
	var msg signalMessage

	if deadline > 0 {
		c.ws.SetReadDeadline(time.Now().Add(deadline))
		defer c.ws.SetReadDeadline(time.Time{})
	}

	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("decode signalling message: %w", err)
	}
	return msg, nil
}

func (c *WebRTCClient) send(msg signalMessage) error {
	c.wsMutex.Lock()
	defer c.wsMutex.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *WebRTCClient) waitForWelcome() error {
	msg, err := c.read(10 * time.Second)
	if err != nil {
		return err
	}
	if msg.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", msg.Type)
	}
	c.peerID = msg.PeerID
	return nil
}

func (c *WebRTCClient) findProducer() error {
	if err := c.send(signalMessage{Type: "list"}); err != nil {
		return err
	}

	msg, err := c.read(5 * time.Second)
	if err != nil {
		return err
	}

	for _, p := range msg.Producers {
		if p.Meta["name"] == c.cfg.Producer {
			c.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("producer %q not found in %d producers", c.cfg.Producer, len(msg.Producers))
}

func (c *WebRTCClient) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	c.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Debug("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			c.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state changed", "state", state.String())
	})

	return nil
}

func (c *WebRTCClient) handleSignalling() {
	for !c.closed.Load() {
		msg, err := c.read(0)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("signalling error", "error", err)
				c.store.running.Store(false)
			}
			return
		}

		switch msg.Type {
		case "sessionStarted":
			c.sessionID.Store(msg.SessionID)
		case "peer":
			c.handlePeerMessage(msg)
		case "endSession":
			c.store.running.Store(false)
			return
		}
	}
}

func (c *WebRTCClient) handlePeerMessage(msg signalMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}

		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Warn("SetRemoteDescription error", "error", err)
			return
		}

		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Warn("CreateAnswer error", "error", err)
			return
		}

		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Warn("SetLocalDescription error", "error", err)
			return
		}

		c.send(signalMessage{
			Type:      "peer",
			SessionID: c.session(),
			SDP:       &sdpPayload{Type: answer.Type.String(), SDP: answer.SDP},
		})
	}

	if msg.ICE != nil {
		if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			c.logger.Debug("AddICECandidate error", "error", err)
		}
	}
}

func (c *WebRTCClient) session() string {
	return c.sessionID.Load().(string)
}

func (c *WebRTCClient) sendICECandidate(candidate *webrtc.ICECandidate) {
	session := c.session()
	if session == "" {
		return
	}

	init := candidate.ToJSON()
	c.send(signalMessage{
		Type:      "peer",
		SessionID: session,
		ICE: &icePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		},
	})
}

// handleVideoTrack reassembles H264 access units from RTP and decodes
// the latest keyframe at most once per frame interval
func (c *WebRTCClient) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case c.trackReady <- struct{}{}:
	default:
	}

	var nalBuffer, keyframe bytes.Buffer
	hasKeyframe := false

	for !c.closed.Load() {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		payload := packet.Payload
		if len(payload) < 2 {
			continue
		}

		switch nalType := payload[0] & 0x1F; {
		case nalType >= 1 && nalType <= 23:
			nalBuffer.Write(annexBStart)
			nalBuffer.Write(payload)
			hasKeyframe = hasKeyframe || isKeyNAL(nalType)

		case nalType == 28: // FU-A
			fuHeader := payload[1]
			fragType := fuHeader & 0x1F

			if fuHeader&0x80 != 0 {
				nalBuffer.Write(annexBStart)
				nalBuffer.WriteByte((payload[0] & 0xE0) | fragType)
				hasKeyframe = hasKeyframe || fragType == 5
			}
			nalBuffer.Write(payload[2:])

			if fuHeader&0x40 != 0 && hasKeyframe {
				keyframe.Reset()
				keyframe.Write(nalBuffer.Bytes())
				nalBuffer.Reset()
			}

		case nalType == 24: // STAP-A
			for offset := 1; offset < len(payload)-2; {
				size := int(payload[offset])<<8 | int(payload[offset+1])
				offset += 2
				if size == 0 || offset+size > len(payload) {
					break
				}
				nalBuffer.Write(annexBStart)
				nalBuffer.Write(payload[offset : offset+size])
				hasKeyframe = hasKeyframe || isKeyNAL(payload[offset]&0x1F)
				offset += size
			}
		}

		if nalBuffer.Len() > 1<<22 {
			nalBuffer.Reset()
			hasKeyframe = false
		}

		if keyframe.Len() > 1000 && time.Since(c.lastDecode) >= c.minInterval {
			c.lastDecode = time.Now()
			c.decodeKeyframe(keyframe.Bytes())
			keyframe.Reset()
			hasKeyframe = false
		}
	}
}

var annexBStart = []byte{0x00, 0x00, 0x00, 0x01}

func isKeyNAL(nalType byte) bool {
	return nalType == 5 || nalType == 7 || nalType == 8
}

func (c *WebRTCClient) decodeKeyframe(h264 []byte) {
	data, err := decodeH264ToJPEG(h264, 200*time.Millisecond)
	if err != nil {
		c.store.fail()
		c.logger.Debug("h264 decode failed", "error", err)
		return
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		c.store.fail()
		return
	}

	frame := c.store.put(data, cfg.Width, cfg.Height)
	if frame.FrameID%100 == 1 {
		c.logger.Debug("decoded frame", "frame_id", frame.FrameID, "size", len(data))
	}
}

// decodeH264ToJPEG pipes an Annex B access unit through ffmpeg
func decodeH264ToJPEG(h264 []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)

	var stdout bytes.Buffer
	cmd.Stdin = bytes.NewReader(h264)
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if stdout.Len() < 1000 {
		return nil, fmt.Errorf("ffmpeg produced %d bytes", stdout.Len())
	}
	return stdout.Bytes(), nil
}

// LatestFrame implements Source
func (c *WebRTCClient) LatestFrame() (Frame, bool) { return c.store.latest() }

// Stats implements Source
func (c *WebRTCClient) Stats() Stats { return c.store.stats() }

// Healthy implements Source
func (c *WebRTCClient) Healthy() bool { return c.store.healthy() }

// Close closes the peer connection and signalling socket
func (c *WebRTCClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.store.running.Store(false)

	var err error
	if c.pc != nil {
		err = c.pc.Close()
	}
	if c.ws != nil {
		c.ws.Close()
	}
	c.logger.Info("webrtc capture closed")
	return err
}
