package capture

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func jpegServer(t *testing.T, w, h int) *httptest.Server {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshot" {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		rw.Header().Set("Content-Type", "image/jpeg")
		jpeg.Encode(rw, img, &jpeg.Options{Quality: 80})
	}))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Framerate <= 0 {
		t.Error("Framerate should be positive")
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		t.Error("Quality should be 1-100")
	}
	if cfg.Timeout <= 0 {
		t.Error("Timeout should be positive")
	}
	if cfg.Width != 640 {
		t.Errorf("Width = %d, want 640", cfg.Width)
	}
}

func TestSnapshotCaptureFrame(t *testing.T) {
	server := jpegServer(t, 100, 60)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.SnapshotURL = server.URL + "/snapshot"

	client := NewSnapshotClient(cfg, nil)

	data, w, h, err := client.captureFrame(context.Background())
	if err != nil {
		t.Fatalf("captureFrame() error = %v", err)
	}
	if w != 100 || h != 60 {
		t.Errorf("size = %dx%d, want 100x60", w, h)
	}
	if len(data) == 0 {
		t.Error("frame data should not be empty")
	}
}

func TestSnapshotCaptureFrameError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.SnapshotURL = server.URL

	client := NewSnapshotClient(cfg, nil)
	if _, _, _, err := client.captureFrame(context.Background()); err == nil {
		t.Error("captureFrame() should return error for 500 response")
	}
}

func TestSnapshotStartClose(t *testing.T) {
	server := jpegServer(t, 32, 24)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.SnapshotURL = server.URL + "/snapshot"
	cfg.Framerate = 100

	client := NewSnapshotClient(cfg, nil)
	if _, ok := client.LatestFrame(); ok {
		t.Error("LatestFrame() should be empty before Start")
	}

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var frame Frame
	var ok bool
	for time.Now().Before(deadline) {
		if frame, ok = client.LatestFrame(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !ok {
		t.Fatal("no frame captured within 1s")
	}
	if frame.FrameID == 0 {
		t.Error("FrameID should start at 1")
	}
	if frame.Width != 32 {
		t.Errorf("Width = %d, want 32", frame.Width)
	}
	if !client.Healthy() {
		t.Error("client should be healthy while frames arrive")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.Stats().Running {
		t.Error("client should not be running after Close")
	}
	if client.Healthy() {
		t.Error("closed client should not report healthy")
	}
}
