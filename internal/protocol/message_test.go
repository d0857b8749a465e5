package protocol

import (
	"bytes"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeFrame, FrameData{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	if msg.Type != TypeFrame {
		t.Errorf("Type = %v, want %v", msg.Type, TypeFrame)
	}

	if msg.Timestamp == 0 {
		t.Error("Timestamp should be set")
	}
}

func TestNewMessageNilData(t *testing.T) {
	msg, err := NewMessage(TypePing, nil)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if msg.Data != nil {
		t.Errorf("Data = %s, want nil", msg.Data)
	}

	var v struct{}
	if err := msg.ParseData(&v); err != nil {
		t.Errorf("ParseData() on empty data: %v", err)
	}
}

func TestFrameMessageJPEG(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0}

	msg, err := NewFrameMessage(640, 480, jpegData, 42)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	var frame FrameData
	if err := msg.ParseData(&frame); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if frame.FrameID != 42 || frame.Format != "jpeg" {
		t.Errorf("unexpected frame data %+v", frame)
	}

	decoded, err := frame.JPEG()
	if err != nil {
		t.Fatalf("JPEG() error = %v", err)
	}
	if !bytes.Equal(decoded, jpegData) {
		t.Errorf("JPEG() = %x, want %x", decoded, jpegData)
	}
}

func TestGetPoseData(t *testing.T) {
	raw := []byte(`{"type":"pose","ts":1,"data":{"frame_id":7,"estimates":[{"score":0.9,"keypoints":[{"name":"left_eye","x":160,"y":120,"score":0.95}]}]}}`)

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	pose, err := msg.GetPoseData()
	if err != nil {
		t.Fatalf("GetPoseData() error = %v", err)
	}
	if pose.FrameID != 7 {
		t.Errorf("FrameID = %d, want 7", pose.FrameID)
	}
	if len(pose.Estimates) != 1 || pose.Estimates[0].Keypoints[0].Name != "left_eye" {
		t.Errorf("unexpected estimates %+v", pose.Estimates)
	}
}

func TestGetDataWrongType(t *testing.T) {
	msg, _ := NewMessage(TypePing, nil)

	if _, err := msg.GetPoseData(); err == nil {
		t.Error("GetPoseData() should reject a ping message")
	}
	if _, err := msg.GetPointerData(); err == nil {
		t.Error("GetPointerData() should reject a ping message")
	}
}

func TestGetPointerData(t *testing.T) {
	msg, _ := NewMessage(TypePointer, PointerData{DX: 12, DY: -3})

	p, err := msg.GetPointerData()
	if err != nil {
		t.Fatalf("GetPointerData() error = %v", err)
	}
	if p.DX != 12 || p.DY != -3 {
		t.Errorf("pointer = %+v", p)
	}
}

func TestParseMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"ts":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("unknown command %q", "fly")

	var data ErrorData
	if err := msg.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if data.Message != `unknown command "fly"` {
		t.Errorf("Message = %q", data.Message)
	}
}
