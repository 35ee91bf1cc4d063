package fusion

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
)

// minEastNorm is the smallest |mag x gravity| that still yields a usable east vector.
// Typical readings are above 100.
const minEastNorm = 0.1

// ErrDegenerateAbsoluteOrientation is returned when gravity and the magnetic field cannot produce
// a rotation (free fall, or a field nearly parallel to gravity). The sample should be discarded.
var ErrDegenerateAbsoluteOrientation = errors.New("fusion: degenerate gravity/magnetic field pair")

// Orientation holds azimuth, pitch and roll in radians.
type Orientation struct {
	Azimuth float64 `json:"azimuth"`
	Pitch   float64 `json:"pitch"`
	Roll    float64 `json:"roll"`
}

// Degrees returns the same orientation expressed in degrees.
func (o Orientation) Degrees() Orientation {
	return Orientation{
		Azimuth: o.Azimuth * 180 / math.Pi,
		Pitch:   o.Pitch * 180 / math.Pi,
		Roll:    o.Roll * 180 / math.Pi,
	}
}

// RotationMatrixFromVectors builds the device-to-world rotation from a gravity vector (accelerometer
// at rest) and a magnetic field vector, both in device coordinates. Rows are east, north, up.
func RotationMatrixFromVectors(gravity, magneticField r3.Vector) (Matrix3, error) {
	h := magneticField.Cross(gravity)
	if h.Norm() < minEastNorm {
		return Matrix3{}, ErrDegenerateAbsoluteOrientation
	}
	h = h.Normalize()
	a := gravity.Normalize()
	m := a.Cross(h)
	return Matrix3{
		h.X, h.Y, h.Z,
		m.X, m.Y, m.Z,
		a.X, a.Y, a.Z,
	}, nil
}

// OrientationFromMatrix decomposes a rotation matrix into azimuth, pitch and roll.
func OrientationFromMatrix(r Matrix3) Orientation {
	return Orientation{
		Azimuth: math.Atan2(r.At(0, 1), r.At(1, 1)),
		Pitch:   math.Asin(clampUnit(-r.At(2, 1))),
		Roll:    math.Atan2(-r.At(2, 0), r.At(2, 2)),
	}
}

// MatrixFromOrientation composes a rotation matrix from an orientation. Roll is applied first, then
// pitch, then azimuth: R = Z(azimuth) * X(pitch) * Y(roll).
func MatrixFromOrientation(o Orientation) Matrix3 {
	sinX, cosX := math.Sincos(o.Pitch)
	sinY, cosY := math.Sincos(o.Roll)
	sinZ, cosZ := math.Sincos(o.Azimuth)

	x := Matrix3{
		1, 0, 0,
		0, cosX, sinX,
		0, -sinX, cosX,
	}
	y := Matrix3{
		cosY, 0, sinY,
		0, 1, 0,
		-sinY, 0, cosY,
	}
	z := Matrix3{
		cosZ, sinZ, 0,
		-sinZ, cosZ, 0,
		0, 0, 1,
	}
	return z.Mul(x.Mul(y))
}

// asin is undefined just outside [-1, 1], which rounding can produce for near-vertical pitch.
func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
