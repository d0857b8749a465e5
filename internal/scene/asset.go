package scene

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/teslashibe/go-portal/internal/frustum"
)

// BuiltinSource selects the procedural city block
const BuiltinSource = "builtin"

// ErrNoGeometry is returned when a model has no triangle primitives
var ErrNoGeometry = errors.New("asset has no triangle geometry")

// AssetConfig selects and bounds the 3D asset
type AssetConfig struct {
	Source   string        // "builtin", a .glb/.gltf path or an http(s) URL
	Lots     int           // Builtin block size, lots per side
	MaxBytes int64         // Download limit for URL sources
	Timeout  time.Duration // Download timeout for URL sources
}

// DefaultAssetConfig returns the builtin block
func DefaultAssetConfig() AssetConfig {
	return AssetConfig{
		Source:   BuiltinSource,
		Lots:     6,
		MaxBytes: 64 << 20,
		Timeout:  15 * time.Second,
	}
}

// Asset is a loaded model ready to place in the scene
type Asset struct {
	Source   string        `json:"source"`
	Mesh     Mesh          `json:"-"`
	Edges    int           `json:"edges"`
	Degraded bool          `json:"degraded"`
	Error    string        `json:"error,omitempty"`
	LoadTime time.Duration `json:"load_time_ns"`
}

// LoadAsset loads the configured asset. On failure it returns a degraded
// asset with no geometry alongside the error so rendering can continue.
func LoadAsset(ctx context.Context, cfg AssetConfig, logger *slog.Logger) (Asset, error) {
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	mesh, err := loadMesh(ctx, cfg)
	if err != nil {
		logger.Warn("asset load failed, rendering without it",
			"source", cfg.Source,
			"error", err,
		)
		return Asset{Source: cfg.Source, Degraded: true, Error: err.Error()}, err
	}

	a := Asset{
		Source:   cfg.Source,
		Mesh:     mesh,
		Edges:    len(mesh.Edges),
		LoadTime: time.Since(start),
	}
	logger.Info("asset loaded",
		"source", cfg.Source,
		"vertices", len(mesh.Vertices),
		"edges", a.Edges,
		"took", a.LoadTime,
	)
	return a, nil
}

func loadMesh(ctx context.Context, cfg AssetConfig) (mesh Mesh, err error) {
	src := strings.TrimSpace(cfg.Source)

	defer func() {
		if r := recover(); r != nil {
			mesh, err = Mesh{}, fmt.Errorf("malformed asset %s: %v", src, r)
		}
	}()
	switch {
	case src == "" || src == BuiltinSource:
		lots := cfg.Lots
		if lots <= 0 {
			lots = DefaultAssetConfig().Lots
		}
		return CityBlock(lots), nil

	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		data, err := fetch(ctx, src, cfg)
		if err != nil {
			return Mesh{}, err
		}
		doc := new(gltf.Document)
		if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
			return Mesh{}, fmt.Errorf("decode %s: %w", src, err)
		}
		return meshFromDocument(doc, filepath.Base(src))

	default:
		doc, err := gltf.Open(src)
		if err != nil {
			return Mesh{}, fmt.Errorf("open %s: %w", src, err)
		}
		return meshFromDocument(doc, filepath.Base(src))
	}
}

func fetch(ctx context.Context, url string, cfg AssetConfig) ([]byte, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAssetConfig().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch asset: unexpected status %d", resp.StatusCode)
	}

	limit := cfg.MaxBytes
	if limit <= 0 {
		limit = DefaultAssetConfig().MaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("asset larger than %d bytes", limit)
	}
	return data, nil
}

// maxNodeDepth bounds the node hierarchy walk
const maxNodeDepth = 64

// meshFromDocument flattens the triangle primitives of the default scene
// into one edge mesh, applying node transforms. Documents without scenes
// contribute every mesh untransformed.
func meshFromDocument(doc *gltf.Document, name string) (Mesh, error) {
	m := NewMeshBuilder(name)

	if len(doc.Scenes) == 0 {
		for i := range doc.Meshes {
			if err := addMesh(doc, m, i, frustum.Identity()); err != nil {
				return Mesh{}, err
			}
		}
	} else {
		sc := 0
		if doc.Scene != nil {
			sc = int(*doc.Scene)
		}
		if sc < 0 || sc >= len(doc.Scenes) || doc.Scenes[sc] == nil {
			return Mesh{}, fmt.Errorf("scene %d out of range", sc)
		}
		for _, n := range doc.Scenes[sc].Nodes {
			if err := addNode(doc, m, int(n), frustum.Identity(), 0); err != nil {
				return Mesh{}, err
			}
		}
	}

	mesh := m.Mesh()
	if len(mesh.Edges) == 0 {
		return Mesh{}, ErrNoGeometry
	}
	return mesh, nil
}

func addNode(doc *gltf.Document, m *MeshBuilder, idx int, parent frustum.Mat4, depth int) error {
	if depth > maxNodeDepth {
		return fmt.Errorf("node hierarchy deeper than %d", maxNodeDepth)
	}
	if idx < 0 || idx >= len(doc.Nodes) || doc.Nodes[idx] == nil {
		return fmt.Errorf("node %d out of range", idx)
	}
	node := doc.Nodes[idx]
	world := parent.Mul(nodeTransform(node))

	if node.Mesh != nil {
		if err := addMesh(doc, m, int(*node.Mesh), world); err != nil {
			return err
		}
	}
	for _, child := range node.Children {
		if err := addNode(doc, m, int(child), world, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// nodeTransform returns the node's local matrix, or T·R·S when no matrix is set
func nodeTransform(n *gltf.Node) frustum.Mat4 {
	if mtx := frustum.Mat4(n.Matrix); mtx != (frustum.Mat4{}) && mtx != frustum.Identity() {
		return mtx
	}

	rot := n.Rotation
	if rot == ([4]float64{}) {
		rot[3] = 1
	}
	scale := n.Scale
	if scale == ([3]float64{}) {
		scale = [3]float64{1, 1, 1}
	}

	t := r3.Vector{X: n.Translation[0], Y: n.Translation[1], Z: n.Translation[2]}
	return frustum.Translate(t).
		Mul(frustum.RotateQuat(rot[0], rot[1], rot[2], rot[3])).
		Mul(frustum.Scale(r3.Vector{X: scale[0], Y: scale[1], Z: scale[2]}))
}

func addMesh(doc *gltf.Document, m *MeshBuilder, idx int, world frustum.Mat4) error {
	if idx < 0 || idx >= len(doc.Meshes) || doc.Meshes[idx] == nil {
		return fmt.Errorf("mesh %d out of range", idx)
	}
	gm := doc.Meshes[idx]

	for _, p := range gm.Primitives {
		if p == nil || p.Mode != gltf.PrimitiveTriangles {
			continue
		}
		pos, ok := p.Attributes[gltf.POSITION]
		if !ok {
			continue
		}

		posAcr, err := accessor(doc, int(pos))
		if err != nil {
			return fmt.Errorf("positions of %q: %w", gm.Name, err)
		}
		if posAcr == nil {
			continue
		}
		positions, err := modeler.ReadPosition(doc, posAcr, nil)
		if err != nil {
			return fmt.Errorf("read positions of %q: %w", gm.Name, err)
		}

		var indices []uint32
		if p.Indices != nil {
			idxAcr, err := accessor(doc, int(*p.Indices))
			if err != nil {
				return fmt.Errorf("indices of %q: %w", gm.Name, err)
			}
			if idxAcr == nil {
				continue
			}
			indices, err = modeler.ReadIndices(doc, idxAcr, nil)
			if err != nil {
				return fmt.Errorf("read indices of %q: %w", gm.Name, err)
			}
		} else {
			indices = make([]uint32, len(positions))
			for i := range indices {
				indices[i] = uint32(i)
			}
		}

		base := m.VertexCount()
		for _, p := range positions {
			v := world.MulPoint(r3.Vector{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])})
			m.Vertex(r3.Vector{X: v.X, Y: v.Y, Z: v.Z})
		}
		for i := 0; i+2 < len(indices); i += 3 {
			a, b, c := int(indices[i]), int(indices[i+1]), int(indices[i+2])
			if a >= len(positions) || b >= len(positions) || c >= len(positions) {
				return fmt.Errorf("index of %q beyond %d vertices", gm.Name, len(positions))
			}
			m.Triangle(base+a, base+b, base+c)
		}
	}
	return nil
}

// accessor resolves idx, returning nil for accessors without data, which
// glTF defines as all zeros and which carry no drawable geometry
func accessor(doc *gltf.Document, idx int) (*gltf.Accessor, error) {
	if idx < 0 || idx >= len(doc.Accessors) || doc.Accessors[idx] == nil {
		return nil, fmt.Errorf("accessor %d out of range", idx)
	}
	acr := doc.Accessors[idx]
	if acr.BufferView == nil && acr.Sparse == nil {
		return nil, nil
	}
	if acr.BufferView != nil && (*acr.BufferView < 0 || int(*acr.BufferView) >= len(doc.BufferViews)) {
		return nil, fmt.Errorf("accessor %d references missing buffer view %d", idx, *acr.BufferView)
	}
	return acr, nil
}

// MeshBuilder accumulates vertices and de-duplicated edges
type MeshBuilder struct {
	mesh Mesh
	seen map[[2]int]struct{}
}

// NewMeshBuilder starts an empty mesh
func NewMeshBuilder(name string) *MeshBuilder {
	return &MeshBuilder{
		mesh: Mesh{Name: name, Color: DefaultAssetColor},
		seen: make(map[[2]int]struct{}),
	}
}

// VertexCount returns the number of vertices added so far
func (b *MeshBuilder) VertexCount() int { return len(b.mesh.Vertices) }

// Vertex appends a vertex
func (b *MeshBuilder) Vertex(v r3.Vector) {
	b.mesh.Vertices = append(b.mesh.Vertices, v)
}

// Edge adds an edge once regardless of direction
func (b *MeshBuilder) Edge(i, j int) {
	if i == j || i < 0 || j < 0 || i >= len(b.mesh.Vertices) || j >= len(b.mesh.Vertices) {
		return
	}
	if i > j {
		i, j = j, i
	}
	key := [2]int{i, j}
	if _, ok := b.seen[key]; ok {
		return
	}
	b.seen[key] = struct{}{}
	b.mesh.Edges = append(b.mesh.Edges, key)
}

// Triangle adds the three edges of a triangle
func (b *MeshBuilder) Triangle(i, j, k int) {
	b.Edge(i, j)
	b.Edge(j, k)
	b.Edge(k, i)
}

// Mesh returns the built mesh
func (b *MeshBuilder) Mesh() Mesh { return b.mesh }
