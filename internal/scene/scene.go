// Package scene holds the wireframe geometry drawn behind the portal frame
// and the software renderer that draws it.
package scene

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-portal/internal/frustum"
)

// DefaultAssetColor is the wireframe colour of loaded assets
var DefaultAssetColor = color.RGBA{R: 0x4f, G: 0xc3, B: 0xf7, A: 0xff}

// Mesh is a set of vertices joined by edges, in model space
type Mesh struct {
	Name     string
	Vertices []r3.Vector
	Edges    [][2]int
	Color    color.RGBA

	// Transform places the mesh in world space; zero means identity
	Transform frustum.Mat4
}

// Bounds returns the axis-aligned extent of the vertices
func (m Mesh) Bounds() (lo, hi r3.Vector) {
	if len(m.Vertices) == 0 {
		return r3.Vector{}, r3.Vector{}
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo = r3.Vector{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vector{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}

// Scene is the list of meshes drawn each tick
type Scene struct {
	Meshes []Mesh
}

// Add appends a mesh
func (s *Scene) Add(m Mesh) {
	s.Meshes = append(s.Meshes, m)
}

// EdgeCount returns the total number of edges
func (s *Scene) EdgeCount() int {
	n := 0
	for _, m := range s.Meshes {
		n += len(m.Edges)
	}
	return n
}

// Placement positions the asset behind the frame
type Placement struct {
	Position r3.Vector `json:"position"`
	Scale    r3.Vector `json:"scale"`
	RotateX  float64   `json:"rotate_x"` // radians
}

// DesktopPlacement is the large-screen asset placement
func DesktopPlacement() Placement {
	return Placement{
		Position: r3.Vector{X: -140, Y: -300, Z: -800},
		Scale:    r3.Vector{X: 150 * 0.22, Y: 150 * 0.35, Z: 150 * 0.22},
		RotateX:  -15 * math.Pi / 180,
	}
}

// TouchPlacement is the handheld asset placement
func TouchPlacement() Placement {
	return Placement{
		Position: r3.Vector{X: -140, Y: -300, Z: -800},
		Scale:    r3.Vector{X: 0.4, Y: 0.4, Z: 0.35},
		RotateX:  -15 * math.Pi / 180,
	}
}

// Transform returns translate · rotateX · scale
func (p Placement) Transform() frustum.Mat4 {
	return frustum.Translate(p.Position).
		Mul(frustum.RotateX(p.RotateX)).
		Mul(frustum.Scale(p.Scale))
}

// FrameOutline draws the portal frame rectangle itself
func FrameOutline(f frustum.Frame) Mesh {
	corners := f.Corners()
	return Mesh{
		Name:     "frame",
		Vertices: corners[:],
		Edges:    [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}},
		Color:    color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	}
}

// box appends the twelve edges of an axis-aligned box
func box(m *Mesh, lo, hi r3.Vector) {
	base := len(m.Vertices)
	for i := 0; i < 8; i++ {
		v := lo
		if i&1 != 0 {
			v.X = hi.X
		}
		if i&2 != 0 {
			v.Y = hi.Y
		}
		if i&4 != 0 {
			v.Z = hi.Z
		}
		m.Vertices = append(m.Vertices, v)
	}
	for _, e := range [][2]int{
		{0, 1}, {2, 3}, {4, 5}, {6, 7},
		{0, 2}, {1, 3}, {4, 6}, {5, 7},
		{0, 4}, {1, 5}, {2, 6}, {3, 7},
	} {
		m.Edges = append(m.Edges, [2]int{base + e[0], base + e[1]})
	}
}

// CityBlock builds a procedural grid of towers on a ground plane. Heights
// are a fixed function of the lot so the block is the same on every run.
func CityBlock(lots int) Mesh {
	m := Mesh{Name: BuiltinSource, Color: DefaultAssetColor}
	if lots <= 0 {
		return m
	}

	const lot, street = 1.0, 0.4
	size := float64(lots)*(lot+street) + street

	// ground
	base := len(m.Vertices)
	m.Vertices = append(m.Vertices,
		r3.Vector{X: 0, Y: 0, Z: 0},
		r3.Vector{X: size, Y: 0, Z: 0},
		r3.Vector{X: size, Y: 0, Z: -size},
		r3.Vector{X: 0, Y: 0, Z: -size},
	)
	m.Edges = append(m.Edges, [2]int{base, base + 1}, [2]int{base + 1, base + 2}, [2]int{base + 2, base + 3}, [2]int{base + 3, base})

	for i := 0; i < lots; i++ {
		for j := 0; j < lots; j++ {
			x := street + float64(i)*(lot+street)
			z := -(street + float64(j)*(lot+street))
			h := 1 + float64((i*7+j*13+i*j*3)%9)*0.75
			box(&m, r3.Vector{X: x, Y: 0, Z: z - lot}, r3.Vector{X: x + lot, Y: h, Z: z})
		}
	}
	return m
}

// Build assembles the drawn scene: the frame outline plus the placed asset
func Build(frame frustum.Frame, asset Asset, placement Placement) *Scene {
	s := &Scene{}
	s.Add(FrameOutline(frame))
	if !asset.Degraded && len(asset.Mesh.Edges) > 0 {
		m := asset.Mesh
		m.Transform = placement.Transform()
		s.Add(m)
	}
	return s
}
