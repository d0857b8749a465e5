package scene

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-portal/internal/frustum"
)

// Target is a minimal pixel target. Implementations clip out-of-bounds
// coordinates.
type Target interface {
	Size() (w, h int)
	SetPixel(x, y int, c color.RGBA)
	Clear(c color.RGBA)
}

// ImageTarget draws into an RGBA image
type ImageTarget struct {
	Image *image.RGBA
}

// NewImageTarget allocates a w×h target
func NewImageTarget(w, h int) *ImageTarget {
	return &ImageTarget{Image: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// Size implements Target
func (t *ImageTarget) Size() (int, int) {
	b := t.Image.Bounds()
	return b.Dx(), b.Dy()
}

// SetPixel implements Target
func (t *ImageTarget) SetPixel(x, y int, c color.RGBA) {
	if !(image.Point{X: x, Y: y}).In(t.Image.Bounds()) {
		return
	}
	t.Image.SetRGBA(x, y, c)
}

// Clear implements Target
func (t *ImageTarget) Clear(c color.RGBA) {
	draw.Draw(t.Image, t.Image.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

// Resize reallocates the image when the size changed
func (t *ImageTarget) Resize(w, h int) {
	if cw, ch := t.Size(); cw == w && ch == h {
		return
	}
	t.Image = image.NewRGBA(image.Rect(0, 0, w, h))
}

// clipW is the smallest clip-space w kept; segments are cut at this plane
const clipW = 1e-5

// RenderStats counts what one Render call did
type RenderStats struct {
	Edges   int `json:"edges"`
	Drawn   int `json:"drawn"`
	Clipped int `json:"clipped"`
}

// Renderer draws scenes as unlit wireframe
type Renderer struct {
	ClearColor color.RGBA
}

// NewRenderer creates a renderer with a dark background
func NewRenderer() *Renderer {
	return &Renderer{ClearColor: color.RGBA{R: 0x10, G: 0x12, B: 0x18, A: 0xff}}
}

// Render clears the target and draws every mesh with the given view and
// projection matrices.
func (r *Renderer) Render(t Target, s *Scene, view, proj frustum.Mat4) RenderStats {
	var stats RenderStats
	if t == nil || s == nil {
		return stats
	}
	w, h := t.Size()
	if w <= 0 || h <= 0 {
		return stats
	}
	t.Clear(r.ClearColor)

	vp := proj.Mul(view)
	for _, m := range s.Meshes {
		model := m.Transform
		if model == (frustum.Mat4{}) {
			model = frustum.Identity()
		}
		mvp := vp.Mul(model)

		clip := make([]frustum.Vec4, len(m.Vertices))
		for i, v := range m.Vertices {
			clip[i] = mvp.MulPoint(v)
		}

		for _, e := range m.Edges {
			if e[0] < 0 || e[1] < 0 || e[0] >= len(clip) || e[1] >= len(clip) {
				continue
			}
			stats.Edges++

			a, b, ok := clipSegment(clip[e[0]], clip[e[1]])
			if !ok {
				stats.Clipped++
				continue
			}
			x0, y0 := toScreen(a, w, h)
			x1, y1 := toScreen(b, w, h)
			drawLine(t, x0, y0, x1, y1, m.Color)
			stats.Drawn++
		}
	}
	return stats
}

// clipSegment cuts a clip-space segment against the w = clipW plane
func clipSegment(a, b frustum.Vec4) (frustum.Vec4, frustum.Vec4, bool) {
	if a.W < clipW && b.W < clipW {
		return a, b, false
	}
	if a.W >= clipW && b.W >= clipW {
		return a, b, true
	}
	t := (clipW - a.W) / (b.W - a.W)
	p := frustum.Vec4{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
		W: clipW,
	}
	if a.W < clipW {
		return p, b, true
	}
	return a, p, true
}

// toScreen maps clip space to pixels, y down. Far-off points are clamped so
// the line loop stays bounded.
func toScreen(p frustum.Vec4, w, h int) (int, int) {
	ndc := r3.Vector{X: p.X / p.W, Y: p.Y / p.W}
	const limit = 4
	ndc.X = clampF(ndc.X, -limit, limit)
	ndc.Y = clampF(ndc.Y, -limit, limit)

	sx := (ndc.X*0.5 + 0.5) * float64(w-1)
	sy := (1 - (ndc.Y*0.5 + 0.5)) * float64(h-1)
	return int(sx + 0.5), int(sy + 0.5)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// drawLine is Bresenham's line algorithm
func drawLine(t Target, x0, y0, x1, y1 int, c color.RGBA) {
	dx := absInt(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -absInt(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		t.SetPixel(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
