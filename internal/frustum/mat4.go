package frustum

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Mat4 is a column-major 4x4 matrix, m[col*4+row]
type Mat4 [16]float64

// Identity returns the identity matrix
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// At returns the element at row, col
func (m Mat4) At(row, col int) float64 { return m[col*4+row] }

// Mul returns m·b
func (m Mat4) Mul(b Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			out[col*4+row] =
				m[0*4+row]*b[col*4+0] +
					m[1*4+row]*b[col*4+1] +
					m[2*4+row]*b[col*4+2] +
					m[3*4+row]*b[col*4+3]
		}
	}
	return out
}

// Vec4 is a homogeneous point
type Vec4 struct {
	X, Y, Z, W float64
}

// MulPoint transforms p with w = 1
func (m Mat4) MulPoint(p r3.Vector) Vec4 {
	return Vec4{
		X: m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		Y: m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		Z: m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
		W: m[3]*p.X + m[7]*p.Y + m[11]*p.Z + m[15],
	}
}

// Translate returns a translation matrix
func Translate(v r3.Vector) Mat4 {
	m := Identity()
	m[12] = v.X
	m[13] = v.Y
	m[14] = v.Z
	return m
}

// Scale returns a scaling matrix
func Scale(v r3.Vector) Mat4 {
	m := Identity()
	m[0] = v.X
	m[5] = v.Y
	m[10] = v.Z
	return m
}

// RotateX returns a rotation about +X
func RotateX(rad float64) Mat4 {
	c, s := math.Cos(rad), math.Sin(rad)
	return Mat4{
		1, 0, 0, 0,
		0, c, s, 0,
		0, -s, c, 0,
		0, 0, 0, 1,
	}
}

// RotateY returns a rotation about +Y
func RotateY(rad float64) Mat4 {
	c, s := math.Cos(rad), math.Sin(rad)
	return Mat4{
		c, 0, -s, 0,
		0, 1, 0, 0,
		s, 0, c, 0,
		0, 0, 0, 1,
	}
}

// RotateQuat returns the rotation of the unit quaternion (x, y, z, w)
func RotateQuat(x, y, z, w float64) Mat4 {
	return Mat4{
		1 - 2*(y*y+z*z), 2 * (x*y + z*w), 2 * (x*z - y*w), 0,
		2 * (x*y - z*w), 1 - 2*(x*x+z*z), 2 * (y*z + x*w), 0,
		2 * (x*z + y*w), 2 * (y*z - x*w), 1 - 2*(x*x+y*y), 0,
		0, 0, 0, 1,
	}
}

// OffAxis returns an OpenGL style perspective matrix for asymmetric
// near-plane bounds
func OffAxis(b Bounds) Mat4 {
	rl := b.Right - b.Left
	tb := b.Top - b.Bottom
	fn := b.Far - b.Near

	return Mat4{
		2 * b.Near / rl, 0, 0, 0,
		0, 2 * b.Near / tb, 0, 0,
		(b.Right + b.Left) / rl, (b.Top + b.Bottom) / tb, -(b.Far + b.Near) / fn, -1,
		0, 0, -2 * b.Far * b.Near / fn, 0,
	}
}

// Finite reports whether every element is a finite number
func (m Mat4) Finite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Det returns the determinant
func (m Mat4) Det() float64 {
	data := m
	return mat.Det(mat.NewDense(4, 4, data[:]))
}
