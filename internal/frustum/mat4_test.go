package frustum

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func TestIdentityMul(t *testing.T) {
	m := Translate(r3.Vector{X: 1, Y: 2, Z: 3}).Mul(Scale(r3.Vector{X: 2, Y: 2, Z: 2}))

	if got := Identity().Mul(m); got != m {
		t.Errorf("I·m = %v, want %v", got, m)
	}
	if got := m.Mul(Identity()); got != m {
		t.Errorf("m·I = %v, want %v", got, m)
	}
}

func TestTransformOrder(t *testing.T) {
	// Scale first, then translate
	m := Translate(r3.Vector{X: 10}).Mul(Scale(r3.Vector{X: 2, Y: 2, Z: 2}))
	p := m.MulPoint(r3.Vector{X: 1, Y: 1, Z: 1})

	if p.X != 12 || p.Y != 2 || p.Z != 2 || p.W != 1 {
		t.Errorf("MulPoint = %+v, want (12, 2, 2, 1)", p)
	}
}

func TestRotations(t *testing.T) {
	p := RotateX(math.Pi / 2).MulPoint(r3.Vector{Y: 1})
	if math.Abs(p.Z-1) > 1e-12 || math.Abs(p.Y) > 1e-12 {
		t.Errorf("RotateX(90°)·Y = %+v, want +Z", p)
	}

	q := RotateY(math.Pi / 2).MulPoint(r3.Vector{Z: 1})
	if math.Abs(q.X-1) > 1e-12 || math.Abs(q.Z) > 1e-12 {
		t.Errorf("RotateY(90°)·Z = %+v, want +X", q)
	}
}

func TestOffAxisSymmetricMatchesDeterminant(t *testing.T) {
	b := Bounds{Left: -1, Right: 1, Bottom: -1, Top: 1, Near: 1, Far: 3}
	m := OffAxis(b)

	if m.At(3, 2) != -1 {
		t.Errorf("w row = %v, want -1", m.At(3, 2))
	}
	if m.At(0, 2) != 0 || m.At(1, 2) != 0 {
		t.Error("symmetric bounds should have no skew terms")
	}

	// det = (2n/(r-l))·(2n/(t-b))·(2fn/(f-n)) for this layout
	want := 1.0 * 1.0 * (2 * 3 * 1 / 2.0)
	if got := m.Det(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Det() = %v, want %v", got, want)
	}
}

func TestFinite(t *testing.T) {
	m := Identity()
	if !m.Finite() {
		t.Error("identity should be finite")
	}
	m[5] = math.Inf(1)
	if m.Finite() {
		t.Error("matrix with Inf should not be finite")
	}
}

func TestRotateQuatMatchesAxisRotations(t *testing.T) {
	for _, deg := range []float64{-90, -15, 0, 30, 90, 180} {
		rad := deg * math.Pi / 180
		half := rad / 2

		tests := []struct {
			name string
			got  Mat4
			want Mat4
		}{
			{"x", RotateQuat(math.Sin(half), 0, 0, math.Cos(half)), RotateX(rad)},
			{"y", RotateQuat(0, math.Sin(half), 0, math.Cos(half)), RotateY(rad)},
		}
		for _, tt := range tests {
			for i := range tt.got {
				if math.Abs(tt.got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("%s %v°: element %d = %v, want %v", tt.name, deg, i, tt.got[i], tt.want[i])
					break
				}
			}
		}
	}
}
