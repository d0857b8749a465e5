// Package display hosts the portal in a desktop window. The window's
// refresh drives the tick; cursor drags orbit the rig, the wheel dollies
// and R resets.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/teslashibe/go-portal/internal/portal"
	"github.com/teslashibe/go-portal/internal/scene"
)

// Config configures the window
type Config struct {
	Title     string
	Width     int
	Height    int
	TPS       int     // Updates per second
	DollyStep float64 // Radius scale per wheel notch
	HUD       bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Title:     "go-portal",
		Width:     1280,
		Height:    720,
		TPS:       60,
		DollyStep: 0.95,
		HUD:       true,
	}
}

// Run opens the window and blocks until it is closed or ctx ends
func Run(ctx context.Context, app *portal.App, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TPS <= 0 {
		cfg.TPS = DefaultConfig().TPS
	}
	if cfg.DollyStep <= 0 || cfg.DollyStep >= 1 {
		cfg.DollyStep = DefaultConfig().DollyStep
	}

	g := &game{
		ctx:    ctx,
		app:    app,
		cfg:    cfg,
		logger: logger,
		target: scene.NewImageTarget(cfg.Width, cfg.Height),
		hud:    cfg.HUD,
	}

	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(cfg.Width, cfg.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(cfg.TPS)

	logger.Info("window opened", "size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height), "tps", cfg.TPS)

	err := ebiten.RunGame(g)
	if errors.Is(err, ebiten.Termination) {
		err = nil
	}
	logger.Info("window closed")
	return err
}

type game struct {
	ctx    context.Context
	app    *portal.App
	cfg    Config
	logger *slog.Logger

	target *scene.ImageTarget
	screen *ebiten.Image
	drag   drag
	hud    bool
	layout [2]int
	state  portal.State
}

func (g *game) Update() error {
	if g.ctx.Err() != nil {
		return ebiten.Termination
	}

	x, y := ebiten.CursorPosition()
	pressed := ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)
	if ids := ebiten.AppendTouchIDs(nil); len(ids) > 0 {
		x, y = ebiten.TouchPosition(ids[0])
		pressed = true
	}
	if dx, dy, ok := g.drag.update(pressed, x, y); ok {
		g.app.HandlePointer(float64(dx), float64(dy))
	}

	if _, wy := ebiten.Wheel(); wy != 0 {
		g.app.HandleDolly(math.Pow(g.cfg.DollyStep, wy))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		g.app.HandleReset()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyH) {
		g.hud = !g.hud
	}
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	g.state = g.app.Tick(g.target)

	w, h := g.target.Size()
	if g.screen == nil || g.screen.Bounds().Dx() != w || g.screen.Bounds().Dy() != h {
		if g.screen != nil {
			g.screen.Deallocate()
		}
		g.screen = ebiten.NewImage(w, h)
	}
	g.screen.WritePixels(g.target.Image.Pix)
	screen.DrawImage(g.screen, nil)

	if g.hud {
		ebitenutil.DebugPrint(screen, hudText(g.state, ebiten.ActualFPS()))
	}
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth <= 0 || outsideHeight <= 0 {
		return g.cfg.Width, g.cfg.Height
	}
	if g.layout != [2]int{outsideWidth, outsideHeight} {
		g.layout = [2]int{outsideWidth, outsideHeight}
		if err := g.app.QueueResize(outsideWidth, outsideHeight); err != nil {
			g.logger.Warn("resize dropped", "error", err)
		}
	}
	return outsideWidth, outsideHeight
}

// drag turns absolute pointer positions into deltas while a button is held
type drag struct {
	active bool
	x, y   int
}

func (d *drag) update(pressed bool, x, y int) (dx, dy int, ok bool) {
	if !pressed {
		d.active = false
		return 0, 0, false
	}
	if !d.active {
		d.active = true
		d.x, d.y = x, y
		return 0, 0, false
	}

	dx, dy = x-d.x, y-d.y
	d.x, d.y = x, y
	return dx, dy, dx != 0 || dy != 0
}

func hudText(st portal.State, fps float64) string {
	face := "face: none"
	if st.Face != nil {
		face = fmt.Sprintf("face: x=%d y=%.0f score=%.2f", st.Face.X, st.Face.Y, st.Face.Score)
	}
	pose := "pose: off"
	if st.PoseAlive {
		pose = "pose: live"
	}

	b := st.Projection.Bounds
	return fmt.Sprintf("%s %.0f fps tick %d\neye (%.1f, %.1f, %.1f) az %.2f polar %.2f r %.1f\n%s  %s\nbounds l=%.3f r=%.3f b=%.3f t=%.3f rejected %d\ndrag orbit  wheel dolly  R reset  H hud",
		st.Profile, fps, st.Tick,
		st.Eye.X, st.Eye.Y, st.Eye.Z, st.Rig.Azimuth, st.Rig.Polar, st.Rig.Radius,
		face, pose,
		b.Left, b.Right, b.Bottom, b.Top, st.Rejected,
	)
}
