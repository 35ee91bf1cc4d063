package fusion

import "math"

// DefaultFilterCoefficient weights the gyro estimate in the complementary blend.
const DefaultFilterCoefficient = 0.98

// Blend mixes a gyro angle g and an absolute angle a as alpha*g + (1-alpha)*a.
//
// When the two straddle ±π (one below -π/2, the other positive) the negative one is shifted by 2π
// before blending and the result folded back, so +179° and -179° blend to about 180° instead of 0°.
func Blend(g, a, alpha float64) float64 {
	switch {
	case g < -0.5*math.Pi && a > 0:
		return foldPi(alpha*(g+2*math.Pi) + (1-alpha)*a)
	case a < -0.5*math.Pi && g > 0:
		return foldPi(alpha*g + (1-alpha)*(a+2*math.Pi))
	default:
		return alpha*g + (1-alpha)*a
	}
}

func foldPi(v float64) float64 {
	if v > math.Pi {
		return v - 2*math.Pi
	}
	return v
}

// fuse blends gyro and absolute orientation per axis and writes the result back into the running
// gyro state, replacing the integrated matrix so drift cannot accumulate.
func fuse(s *State, alpha float64) {
	g := s.GyroOrientation
	a := s.AbsoluteOrientation
	fused := Orientation{
		Azimuth: Blend(g.Azimuth, a.Azimuth, alpha),
		Pitch:   Blend(g.Pitch, a.Pitch, alpha),
		Roll:    Blend(g.Roll, a.Roll, alpha),
	}
	s.FusedOrientation = fused
	s.GyroOrientation = fused
	s.GyroMatrix = MatrixFromOrientation(fused)
}
