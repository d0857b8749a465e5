package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SnapshotClient polls an HTTP endpoint that serves single JPEG frames
type SnapshotClient struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	store      frameStore

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSnapshotClient creates a new snapshot client
func NewSnapshotClient(cfg Config, logger *slog.Logger) *SnapshotClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &SnapshotClient{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name implements Source
func (c *SnapshotClient) Name() string { return "snapshot" }

// Start begins polling frames
func (c *SnapshotClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.running.Load() {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.store.running.Store(true)

	c.logger.Info("snapshot capture starting",
		"url", c.cfg.SnapshotURL,
		"framerate", c.cfg.Framerate,
	)

	go c.captureLoop(ctx)
	return nil
}

func (c *SnapshotClient) captureLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(frameInterval(c.cfg.Framerate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, w, h, err := c.captureFrame(ctx)
			if err != nil {
				c.store.fail()
				c.logger.Debug("snapshot capture error", "error", err)
				continue
			}
			c.store.put(data, w, h)
		}
	}
}

// captureFrame fetches and normalises a single frame
func (c *SnapshotClient) captureFrame(ctx context.Context) ([]byte, int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SnapshotURL, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read body: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode jpeg: %w", err)
	}
	bounds := img.Bounds()

	if c.cfg.Quality > 0 && c.cfg.Quality < 100 {
		data, err = EncodeJPEG(img, c.cfg.Quality)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("reencode: %w", err)
		}
	}

	return data, bounds.Dx(), bounds.Dy(), nil
}

// LatestFrame implements Source
func (c *SnapshotClient) LatestFrame() (Frame, bool) { return c.store.latest() }

// Stats implements Source
func (c *SnapshotClient) Stats() Stats { return c.store.stats() }

// Healthy implements Source
func (c *SnapshotClient) Healthy() bool { return c.store.healthy() }

// Close stops polling
func (c *SnapshotClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.store.running.Load() {
		return nil
	}

	c.store.running.Store(false)
	c.cancel()
	<-c.done
	c.logger.Info("snapshot capture stopped")
	return nil
}

// EncodeJPEG encodes img at the given quality
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
