// Package protocol defines the websocket messages exchanged with the
// remote pose service and with state stream clients
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of websocket message
type MessageType string

const (
	// Portal → pose service
	TypeFrame MessageType = "frame" // Video frame for inference

	// Pose service → portal
	TypePose MessageType = "pose" // Inference result for one frame

	// Portal → stream clients
	TypeState MessageType = "state" // Per-tick render state
	TypeHello MessageType = "hello" // Sent once on connect
	TypeStats MessageType = "stats" // Reply to get_stats

	// Stream clients → portal
	TypePointer  MessageType = "pointer"   // Pointer delta
	TypeReset    MessageType = "reset"     // Return rig to home pose
	TypeGetStats MessageType = "get_stats" // Request a stats message

	// Bidirectional
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message is the base wrapper for all websocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}

// FrameData carries a JPEG frame to the pose service
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Data    string `json:"data"`
	FrameID uint64 `json:"frame_id"`
}

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// JPEG decodes the frame payload
func (f FrameData) JPEG() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// KeypointData is one named landmark in frame pixels
type KeypointData struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// EstimateData is one detected subject
type EstimateData struct {
	Score     float64        `json:"score"`
	Keypoints []KeypointData `json:"keypoints"`
}

// PoseData answers a frame message
type PoseData struct {
	FrameID   uint64         `json:"frame_id"`
	Estimates []EstimateData `json:"estimates"`
	Error     string         `json:"error,omitempty"`
}

// GetPoseData parses pose data from a message
func (m *Message) GetPoseData() (*PoseData, error) {
	if m.Type != TypePose {
		return nil, fmt.Errorf("expected pose message, got %s", m.Type)
	}
	var data PoseData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// PointerData is a relative pointer movement in screen pixels
type PointerData struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// GetPointerData parses pointer data from a message
func (m *Message) GetPointerData() (*PointerData, error) {
	if m.Type != TypePointer {
		return nil, fmt.Errorf("expected pointer message, got %s", m.Type)
	}
	var data PointerData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Vec3 is a JSON friendly 3D vector
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// StateData is the per-tick snapshot streamed to clients
type StateData struct {
	Tick      uint64     `json:"tick"`
	Eye       Vec3       `json:"eye"`
	Target    Vec3       `json:"target"`
	Radius    float64    `json:"radius"`
	Polar     float64    `json:"polar"`
	Azimuth   float64    `json:"azimuth"`
	Face      *FaceData  `json:"face,omitempty"`
	Bounds    BoundsData `json:"bounds"`
	Viewport  [2]int     `json:"viewport"`
	Rejected  uint64     `json:"rejected"`
	PoseAlive bool       `json:"pose_alive"`
}

// FaceData is the last accepted screen-space eye position
type FaceData struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

// BoundsData are the near-plane frustum bounds
type BoundsData struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Top    float64 `json:"top"`
	Near   float64 `json:"near"`
	Far    float64 `json:"far"`
}

// NewStateMessage creates a state message
func NewStateMessage(state StateData) (*Message, error) {
	return NewMessage(TypeState, state)
}

// HelloData is sent to stream clients on connect
type HelloData struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
	Version   string `json:"version"`
}

// ErrorData reports a rejected client command
type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(format string, args ...any) *Message {
	msg, _ := NewMessage(TypeError, ErrorData{Message: fmt.Sprintf(format, args...)})
	return msg
}
