package fusion

import (
	"math"

	"github.com/golang/geo/r3"
)

// Matrix3 is a row-major 3x3 matrix.
//
// It is an array so assignment copies it; Mul always produces a fresh value and can never write
// into one of its own operands.
type Matrix3 [9]float64

// Identity returns the 3x3 identity matrix.
func Identity() Matrix3 {
	return Matrix3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// At returns the element at row r, column c.
func (m Matrix3) At(r, c int) float64 {
	return m[r*3+c]
}

// Row returns row i as a vector.
func (m Matrix3) Row(i int) r3.Vector {
	return r3.Vector{X: m[i*3], Y: m[i*3+1], Z: m[i*3+2]}
}

// Mul returns the row-by-column product m*b.
func (m Matrix3) Mul(b Matrix3) Matrix3 {
	var out Matrix3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = m[r*3]*b[c] + m[r*3+1]*b[3+c] + m[r*3+2]*b[6+c]
		}
	}
	return out
}

// Transpose returns mᵀ. For a rotation matrix this is its inverse.
func (m Matrix3) Transpose() Matrix3 {
	return Matrix3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// Apply returns m*v.
func (m Matrix3) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.Row(0).Dot(v),
		Y: m.Row(1).Dot(v),
		Z: m.Row(2).Dot(v),
	}
}

// OrthonormalWithin reports whether every row has unit norm and the rows are pairwise orthogonal,
// both within tol.
func (m Matrix3) OrthonormalWithin(tol float64) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(m.Row(i).Norm()-1) > tol {
			return false
		}
		for j := i + 1; j < 3; j++ {
			if math.Abs(m.Row(i).Dot(m.Row(j))) > tol {
				return false
			}
		}
	}
	return true
}
