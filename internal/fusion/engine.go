package fusion

import "github.com/golang/geo/r3"

// Phase is the engine's lifecycle stage.
type Phase int

const (
	// PhaseUninitialized means the gyro matrix has not been anchored to a reference frame yet.
	PhaseUninitialized Phase = iota
	// PhaseSeeded means gyro integration and fusion are running.
	PhaseSeeded
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseSeeded:
		return "seeded"
	default:
		return "unknown"
	}
}

// Config tunes an Engine.
type Config struct {
	// FilterCoefficient is the gyro weight of the complementary filter. Zero selects
	// DefaultFilterCoefficient.
	FilterCoefficient float64

	// WaitForAbsolute drops gyro samples until the first absolute orientation arrives. When false the
	// gyro matrix is seeded from the zero orientation if no absolute fix exists yet, and
	// State.SeededWithoutAbsolute records that it happened.
	WaitForAbsolute bool
}

// State is everything the engine carries between samples.
type State struct {
	GyroMatrix          Matrix3
	GyroOrientation     Orientation
	AbsoluteOrientation Orientation
	FusedOrientation    Orientation

	// LastGyroTimestamp is the previous gyro sample time in nanoseconds; 0 means none yet.
	LastGyroTimestamp int64

	Initialized            bool
	HasAbsoluteOrientation bool
	SeededWithoutAbsolute  bool
}

// NewState returns the startup state: identity gyro matrix, nothing observed.
func NewState() State {
	return State{GyroMatrix: Identity()}
}

// Engine fuses accelerometer, magnetometer and gyroscope samples into one orientation.
type Engine struct {
	alpha           float64
	waitForAbsolute bool
	state           State
}

// New returns an engine in the startup state.
func New(cfg Config) *Engine {
	alpha := cfg.FilterCoefficient
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultFilterCoefficient
	}
	return &Engine{alpha: alpha, waitForAbsolute: cfg.WaitForAbsolute, state: NewState()}
}

// FilterCoefficient returns the gyro weight in use.
func (e *Engine) FilterCoefficient() float64 { return e.alpha }

// Reset returns the engine to the startup state.
func (e *Engine) Reset() {
	e.state = NewState()
}

// State returns a copy of the engine state.
func (e *Engine) State() State { return e.state }

// Phase reports whether the gyro matrix has been seeded.
func (e *Engine) Phase() Phase {
	if e.state.Initialized {
		return PhaseSeeded
	}
	return PhaseUninitialized
}

// FusedOrientation returns the latest blended orientation.
func (e *Engine) FusedOrientation() Orientation { return e.state.FusedOrientation }

// OnAccelMagSample recomputes the absolute orientation from the latest gravity and magnetic field.
// On ErrDegenerateAbsoluteOrientation the previous absolute orientation is kept untouched; callers
// should treat it as a dropped sample, not a failure.
func (e *Engine) OnAccelMagSample(gravity, magneticField r3.Vector) error {
	r, err := RotationMatrixFromVectors(gravity, magneticField)
	if err != nil {
		return err
	}
	e.state.AbsoluteOrientation = OrientationFromMatrix(r)
	e.state.HasAbsoluteOrientation = true
	return nil
}

// OnGyroSample integrates one gyroscope sample (rad/s, device frame) taken at timestampNs and runs
// the fusion step. It reports whether the sample advanced the integrator; the first sample after a
// reset only establishes the time base.
func (e *Engine) OnGyroSample(angularVelocity r3.Vector, timestampNs int64) bool {
	if !e.state.Initialized {
		if e.waitForAbsolute && !e.state.HasAbsoluteOrientation {
			return false
		}
		e.seed()
	}
	integrated := integrateGyro(&e.state, angularVelocity, timestampNs)
	fuse(&e.state, e.alpha)
	return integrated
}

// seed anchors the gyro matrix to the current absolute orientation, or to the zero orientation
// (level, facing north) when none has been computed yet.
func (e *Engine) seed() {
	ref := Orientation{}
	if e.state.HasAbsoluteOrientation {
		ref = e.state.AbsoluteOrientation
	} else {
		e.state.SeededWithoutAbsolute = true
	}
	e.state.GyroMatrix = e.state.GyroMatrix.Mul(MatrixFromOrientation(ref))
	e.state.GyroOrientation = OrientationFromMatrix(e.state.GyroMatrix)
	e.state.Initialized = true
}
