package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Webcam captures frames from a local camera through OpenCV
type Webcam struct {
	cfg    Config
	logger *slog.Logger
	store  frameStore

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebcam creates a webcam source for cfg.Device
func NewWebcam(cfg Config, logger *slog.Logger) *Webcam {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webcam{cfg: cfg, logger: logger}
}

// Name implements Source
func (w *Webcam) Name() string { return "webcam" }

// Start opens the device and begins reading frames
func (w *Webcam) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.vc != nil {
		return nil
	}

	devices, err := ProbeUVC()
	switch {
	case err != nil:
		w.logger.Debug("usb probe failed, opening device directly", "error", err)
	case len(devices) == 0:
		w.logger.Warn("no usb video class devices found", "device", w.cfg.Device)
	default:
		w.logger.Debug("usb video devices", "count", len(devices), "first", devices[0].String())
	}

	vc, err := gocv.OpenVideoCapture(w.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: open device %d: %v", ErrUnavailable, w.cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: device %d did not open", ErrUnavailable, w.cfg.Device)
	}

	if w.cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(w.cfg.Width))
	}
	if w.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(w.cfg.Height))
	}
	if w.cfg.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(w.cfg.Framerate))
	}

	w.vc = vc
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.store.running.Store(true)

	w.logger.Info("webcam capture starting",
		"device", w.cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", w.cfg.Width, w.cfg.Height),
		"framerate", w.cfg.Framerate,
	)

	go w.captureLoop(ctx, vc)
	return nil
}

func (w *Webcam) captureLoop(ctx context.Context, vc *gocv.VideoCapture) {
	defer close(w.done)

	img := gocv.NewMat()
	defer img.Close()

	ticker := time.NewTicker(frameInterval(w.cfg.Framerate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok := vc.Read(&img); !ok || img.Empty() {
				w.store.fail()
				continue
			}

			data, err := w.encode(img)
			if err != nil {
				w.store.fail()
				w.logger.Debug("webcam encode error", "error", err)
				continue
			}
			w.store.put(data, img.Cols(), img.Rows())
		}
	}
}

func (w *Webcam) encode(img gocv.Mat) ([]byte, error) {
	quality := w.cfg.Quality
	if quality <= 0 || quality > 100 {
		quality = 80
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}

// LatestFrame implements Source
func (w *Webcam) LatestFrame() (Frame, bool) { return w.store.latest() }

// Stats implements Source
func (w *Webcam) Stats() Stats { return w.store.stats() }

// Healthy implements Source
func (w *Webcam) Healthy() bool { return w.store.healthy() }

// Close stops capturing and releases the device
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.vc == nil {
		return nil
	}

	w.store.running.Store(false)
	w.cancel()
	<-w.done

	err := w.vc.Close()
	w.vc = nil
	w.logger.Info("webcam capture stopped", "frames", w.store.captured.Load())
	return err
}
