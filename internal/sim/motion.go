package sim

import (
	"math"
	"time"

	"gyrofusion/internal/fusion"
)

// Motion is a deterministic attitude trajectory.
type Motion interface {
	// OrientationAt returns the true attitude at elapsed time t.
	OrientationAt(t time.Duration) fusion.Orientation
}

// Turn yaws at a constant rate over a fixed pitch and roll.
type Turn struct {
	InitialAzimuthDeg float64
	AzimuthRateDps    float64
	PitchDeg          float64
	RollDeg           float64
}

func (m Turn) OrientationAt(t time.Duration) fusion.Orientation {
	az := m.InitialAzimuthDeg + m.AzimuthRateDps*t.Seconds()
	return fusion.Orientation{
		Azimuth: wrapPi(az * math.Pi / 180),
		Pitch:   m.PitchDeg * math.Pi / 180,
		Roll:    m.RollDeg * math.Pi / 180,
	}
}

// wrapPi folds an angle into (-π, π].
func wrapPi(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}
