package fusion

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// axisEpsilon is the angular speed (rad/s) below which the rotation axis is considered undefined.
const axisEpsilon = 1e-9

// nsToSeconds converts sensor timestamps to seconds.
const nsToSeconds = 1e-9

// DeltaRotation converts an angular velocity sample held for dt seconds into the unit quaternion of
// the incremental rotation. Below axisEpsilon the result is the identity rotation.
func DeltaRotation(angularVelocity r3.Vector, dt float64) quat.Number {
	omega := angularVelocity.Norm()
	if omega <= axisEpsilon {
		return quat.Number{Real: 1}
	}
	axis := angularVelocity.Mul(1 / omega)
	sinHalf, cosHalf := math.Sincos(omega * dt / 2)
	return quat.Number{
		Real: cosHalf,
		Imag: sinHalf * axis.X,
		Jmag: sinHalf * axis.Y,
		Kmag: sinHalf * axis.Z,
	}
}

// MatrixFromRotation converts a unit quaternion into a rotation matrix.
func MatrixFromRotation(q quat.Number) Matrix3 {
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag

	sqQ1 := 2 * q1 * q1
	sqQ2 := 2 * q2 * q2
	sqQ3 := 2 * q3 * q3
	q1q2 := 2 * q1 * q2
	q3q0 := 2 * q3 * q0
	q1q3 := 2 * q1 * q3
	q2q0 := 2 * q2 * q0
	q2q3 := 2 * q2 * q3
	q1q0 := 2 * q1 * q0

	return Matrix3{
		1 - sqQ2 - sqQ3, q1q2 - q3q0, q1q3 + q2q0,
		q1q2 + q3q0, 1 - sqQ1 - sqQ3, q2q3 - q1q0,
		q1q3 - q2q0, q2q3 + q1q0, 1 - sqQ1 - sqQ2,
	}
}

// integrateGyro advances the running gyro matrix by one sample. It reports whether an increment was
// applied; the first sample after a reset (and any sample whose timestamp goes backwards) only
// records its timestamp.
func integrateGyro(s *State, angularVelocity r3.Vector, timestampNs int64) bool {
	last := s.LastGyroTimestamp
	s.LastGyroTimestamp = timestampNs
	if last == 0 || timestampNs < last {
		return false
	}

	dt := float64(timestampNs-last) * nsToSeconds
	delta := MatrixFromRotation(DeltaRotation(angularVelocity, dt))
	s.GyroMatrix = s.GyroMatrix.Mul(delta)
	s.GyroOrientation = OrientationFromMatrix(s.GyroMatrix)
	return true
}
