package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"gyrofusion/internal/fusion"
	"gyrofusion/internal/imu"
)

// World-frame reference vectors (east, north, up).
var (
	// Accelerometer at rest reads +g along up.
	WorldGravity = r3.Vector{Z: 9.81}
	// A mid-latitude field in µT: northward horizontal component, dipping down.
	WorldMagneticField = r3.Vector{Y: 20, Z: -40}
)

// IMU turns a Motion into the accel, gyro and mag readings a strapped-down sensor would report.
type IMU struct {
	Motion Motion
	RateHz int

	// MagEvery marks only every Nth sample's magnetometer reading valid. Zero or one means every
	// sample.
	MagEvery int

	GyroBias      r3.Vector // rad/s, added to every gyro sample
	AccelNoiseStd float64   // m/s²
	GyroNoiseStd  float64   // rad/s
	MagNoiseStd   float64   // µT
	Seed          uint64
}

// Source produces IMU samples on a fixed time grid. It never blocks; callers pace it.
type Source struct {
	cfg IMU
	dt  time.Duration

	mu     sync.Mutex
	n      int64
	accelN distuv.Normal
	gyroN  distuv.Normal
	magN   distuv.Normal
}

func NewSource(cfg IMU) (*Source, error) {
	if cfg.Motion == nil {
		return nil, fmt.Errorf("sim: motion is required")
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = 100
	}
	if cfg.MagEvery <= 0 {
		cfg.MagEvery = 1
	}
	if cfg.AccelNoiseStd < 0 || cfg.GyroNoiseStd < 0 || cfg.MagNoiseStd < 0 {
		return nil, fmt.Errorf("sim: noise std must be >= 0")
	}

	// One seeded stream feeds every axis, so a seed fixes the whole noise sequence.
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9E3779B97F4A7C15)
	return &Source{
		cfg:    cfg,
		dt:     time.Second / time.Duration(cfg.RateHz),
		accelN: distuv.Normal{Sigma: cfg.AccelNoiseStd, Src: src},
		gyroN:  distuv.Normal{Sigma: cfg.GyroNoiseStd, Src: src},
		magN:   distuv.Normal{Sigma: cfg.MagNoiseStd, Src: src},
	}, nil
}

// Interval is the spacing between sample timestamps.
func (s *Source) Interval() time.Duration { return s.dt }

func (s *Source) Read() (imu.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := time.Duration(s.n) * s.dt
	out := SampleAt(s.cfg.Motion, t, s.dt)
	out.MagValid = s.n%int64(s.cfg.MagEvery) == 0
	if !out.MagValid {
		out.Mag = r3.Vector{}
	}
	s.n++

	out.Gyro = out.Gyro.Add(s.cfg.GyroBias)
	out.Accel = s.addNoise(out.Accel, s.accelN)
	out.Gyro = s.addNoise(out.Gyro, s.gyroN)
	if out.MagValid {
		out.Mag = s.addNoise(out.Mag, s.magN)
	}
	return out, nil
}

func (s *Source) Close() error { return nil }

func (s *Source) addNoise(v r3.Vector, n distuv.Normal) r3.Vector {
	if n.Sigma == 0 {
		return v
	}
	return r3.Vector{X: v.X + n.Rand(), Y: v.Y + n.Rand(), Z: v.Z + n.Rand()}
}

// SampleAt returns the noiseless reading at elapsed time t. The gyro carries the body rate over the
// preceding interval dt, which is what an integrator stepping from t-dt to t expects. The timestamp
// is t+1ns so the first sample is never the zero sentinel.
func SampleAt(m Motion, t, dt time.Duration) imu.Sample {
	r := fusion.MatrixFromOrientation(m.OrientationAt(t))
	toDevice := r.Transpose()
	return imu.Sample{
		TimestampNs: t.Nanoseconds() + 1,
		Accel:       toDevice.Apply(WorldGravity),
		Mag:         toDevice.Apply(WorldMagneticField),
		MagValid:    true,
		Gyro:        BodyRate(m, t, dt),
	}
}

// BodyRate is the constant device-frame angular velocity that carries the attitude at t-dt onto the
// attitude at t. At t < dt it looks forward instead.
func BodyRate(m Motion, t, dt time.Duration) r3.Vector {
	if dt <= 0 {
		return r3.Vector{}
	}
	t0, t1 := t-dt, t
	if t0 < 0 {
		t0, t1 = t, t+dt
	}
	r0 := fusion.MatrixFromOrientation(m.OrientationAt(t0))
	r1 := fusion.MatrixFromOrientation(m.OrientationAt(t1))
	delta := r0.Transpose().Mul(r1)

	// Axis-angle of delta: the skew part is sin(angle)·axis.
	vee := r3.Vector{
		X: delta.At(2, 1) - delta.At(1, 2),
		Y: delta.At(0, 2) - delta.At(2, 0),
		Z: delta.At(1, 0) - delta.At(0, 1),
	}.Mul(0.5)
	cosAngle := (delta.At(0, 0) + delta.At(1, 1) + delta.At(2, 2) - 1) / 2
	angle := math.Acos(math.Max(-1, math.Min(1, cosAngle)))
	sinAngle := vee.Norm()
	if sinAngle < 1e-12 {
		return vee.Mul(1 / dt.Seconds())
	}
	return vee.Mul(angle / sinAngle / dt.Seconds())
}
