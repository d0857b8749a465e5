package portal

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"
	"time"
)

func TestLoopRunStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 160, 120
	app := newTestApp(t, cfg, newFakePose())

	loop := NewLoop(app, LoopConfig{Interval: 5 * time.Millisecond, Render: true, Quality: 70}, nil)
	if _, err := loop.Frame(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Frame() before run error = %v, want ErrNoFrame", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	var data []byte
	for {
		var err error
		if data, err = loop.Frame(); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame rendered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 160 || b.Dy() != 120 {
		t.Errorf("frame = %v, want 160x120", b)
	}

	// The loop keeps running across a resize
	app.QueueResize(200, 100)
	deadline = time.Now().Add(2 * time.Second)
	for app.Snapshot().Viewport != [2]int{200, 100} {
		if time.Now().After(deadline) {
			t.Fatal("resize never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	loop.Stop()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	ticks := app.Stats().Ticks
	time.Sleep(20 * time.Millisecond)
	if app.Stats().Ticks != ticks {
		t.Error("loop ticked after Stop")
	}
}

func TestLoopWithoutRender(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), newFakePose())
	loop := NewLoop(app, LoopConfig{Interval: time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if app.Stats().Ticks == 0 {
		t.Error("expected ticks")
	}
	if _, err := loop.Frame(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Frame() error = %v, want ErrNoFrame", err)
	}
}

func TestLoopStopBeforeRun(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), newFakePose())
	loop := NewLoop(app, LoopConfig{Interval: time.Millisecond}, nil)
	loop.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		loop.Stop()
		t.Fatal("Run kept ticking after an earlier Stop")
	}

	if ticks := app.Stats().Ticks; ticks != 0 {
		t.Errorf("Ticks = %d, want 0", ticks)
	}

	// Stop after Run has returned must not block
	loop.Stop()
}

func TestLoopRunTwice(t *testing.T) {
	app := newTestApp(t, DefaultConfig(), newFakePose())
	loop := NewLoop(app, LoopConfig{Interval: time.Millisecond}, nil)

	go loop.Run(context.Background())
	defer loop.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for app.Stats().Ticks == 0 {
		if time.Now().After(deadline) {
			t.Fatal("loop never ticked")
		}
		time.Sleep(time.Millisecond)
	}

	if err := loop.Run(context.Background()); !errors.Is(err, ErrLoopRunning) {
		t.Errorf("second Run() error = %v, want ErrLoopRunning", err)
	}
}
