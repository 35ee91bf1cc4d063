package fusion

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

var (
	levelGravity = r3.Vector{Z: 9.8}
	northField   = r3.Vector{Y: 20, Z: -40}
)

func TestEngine_StartupState(t *testing.T) {
	e := New(Config{})
	s := e.State()
	test.That(t, s.GyroMatrix, test.ShouldResemble, Identity())
	test.That(t, s.Initialized, test.ShouldBeFalse)
	test.That(t, s.HasAbsoluteOrientation, test.ShouldBeFalse)
	test.That(t, s.LastGyroTimestamp, test.ShouldEqual, int64(0))
	test.That(t, e.Phase(), test.ShouldEqual, PhaseUninitialized)
	test.That(t, e.FilterCoefficient(), test.ShouldEqual, DefaultFilterCoefficient)

	test.That(t, New(Config{FilterCoefficient: 0.9}).FilterCoefficient(), test.ShouldEqual, 0.9)
	test.That(t, New(Config{FilterCoefficient: 1.5}).FilterCoefficient(), test.ShouldEqual, DefaultFilterCoefficient)
}

func TestEngine_EndToEndQuarterTurn(t *testing.T) {
	e := New(Config{})
	test.That(t, e.OnAccelMagSample(levelGravity, northField), test.ShouldBeNil)

	abs := e.State().AbsoluteOrientation
	test.That(t, abs.Azimuth, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, abs.Pitch, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, abs.Roll, test.ShouldAlmostEqual, 0, 1e-9)

	const t0 = int64(1_000_000)
	yaw := r3.Vector{Z: 1.5708}
	test.That(t, e.OnGyroSample(yaw, t0), test.ShouldBeFalse)
	test.That(t, e.Phase(), test.ShouldEqual, PhaseSeeded)
	test.That(t, e.OnGyroSample(yaw, t0+1_000_000_000), test.ShouldBeTrue)

	// 90°/s about +Z for one second turns the device a quarter turn counter-clockwise, which
	// lowers azimuth by π/2. Fusion pulls 2% back toward the stale absolute fix.
	s := e.State()
	test.That(t, s.GyroOrientation.Azimuth, test.ShouldAlmostEqual, -math.Pi/2, 0.05)
	test.That(t, math.Abs(s.GyroOrientation.Azimuth), test.ShouldAlmostEqual, math.Pi/2, 0.05)
	test.That(t, e.FusedOrientation(), test.ShouldResemble, s.GyroOrientation)
	test.That(t, s.SeededWithoutAbsolute, test.ShouldBeFalse)
}

func TestEngine_QuarterTurnFromFieldAlongX(t *testing.T) {
	// Field along +X gives an absolute azimuth of -π/2; the same quarter turn lands near ±π.
	e := New(Config{})
	test.That(t, e.OnAccelMagSample(levelGravity, r3.Vector{X: 20, Z: -40}), test.ShouldBeNil)
	e.OnGyroSample(r3.Vector{Z: 1.5708}, 1_000_000)
	e.OnGyroSample(r3.Vector{Z: 1.5708}, 1_001_000_000)

	turned := wrapAngle(e.FusedOrientation().Azimuth - (-math.Pi / 2))
	test.That(t, math.Abs(turned), test.ShouldAlmostEqual, math.Pi/2, 0.1)
	test.That(t, math.Abs(e.FusedOrientation().Azimuth), test.ShouldBeGreaterThan, 3.0)
}

func TestEngine_DegenerateSampleKeepsAbsolute(t *testing.T) {
	e := New(Config{})
	test.That(t, e.OnAccelMagSample(levelGravity, northField), test.ShouldBeNil)
	before := e.State()

	err := e.OnAccelMagSample(r3.Vector{}, r3.Vector{X: 1})
	test.That(t, errors.Is(err, ErrDegenerateAbsoluteOrientation), test.ShouldBeTrue)

	after := e.State()
	test.That(t, after.AbsoluteOrientation, test.ShouldResemble, before.AbsoluteOrientation)
	test.That(t, after.HasAbsoluteOrientation, test.ShouldBeTrue)

	// Degenerate before any good sample leaves the flag unset.
	fresh := New(Config{})
	test.That(t, fresh.OnAccelMagSample(r3.Vector{}, r3.Vector{X: 1}), test.ShouldNotBeNil)
	test.That(t, fresh.State().HasAbsoluteOrientation, test.ShouldBeFalse)
	test.That(t, fresh.State().AbsoluteOrientation, test.ShouldResemble, Orientation{})
}

func TestEngine_RestIsIdempotent(t *testing.T) {
	want := Orientation{Azimuth: 2.2, Pitch: 0.35, Roll: -0.8}
	r := MatrixFromOrientation(want)

	e := New(Config{})
	test.That(t, e.OnAccelMagSample(r.Transpose().Apply(r3.Vector{Z: 9.81}), r.Transpose().Apply(r3.Vector{Y: 20, Z: -40})), test.ShouldBeNil)

	ts := int64(500)
	for _, step := range []int64{0, 16_000_000, 1, 250_000_000, 4_000_000_000, 16_000_000} {
		ts += step
		e.OnGyroSample(r3.Vector{}, ts)
		got := e.State().GyroOrientation
		test.That(t, got.Azimuth, test.ShouldAlmostEqual, want.Azimuth, 1e-6)
		test.That(t, got.Pitch, test.ShouldAlmostEqual, want.Pitch, 1e-6)
		test.That(t, got.Roll, test.ShouldAlmostEqual, want.Roll, 1e-6)
	}
}

func TestEngine_MatrixStaysOrthonormal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	randVec := func(scale float64) r3.Vector {
		return r3.Vector{X: (rng.Float64()*2 - 1) * scale, Y: (rng.Float64()*2 - 1) * scale, Z: (rng.Float64()*2 - 1) * scale}
	}

	e := New(Config{})
	ts := int64(1)
	for i := 0; i < 2000; i++ {
		if i%3 == 0 {
			_ = e.OnAccelMagSample(randVec(10), randVec(50))
		}
		ts += int64(rng.Intn(50_000_000))
		e.OnGyroSample(randVec(6), ts)

		m := e.State().GyroMatrix
		if !m.OrthonormalWithin(1e-4) {
			t.Fatalf("step %d: gyro matrix lost orthonormality: %v", i, m)
		}
	}
}

func TestEngine_SeedsFromZeroWithoutAbsolute(t *testing.T) {
	e := New(Config{})
	e.OnGyroSample(r3.Vector{X: 0.1}, 10)

	s := e.State()
	test.That(t, s.Initialized, test.ShouldBeTrue)
	test.That(t, s.SeededWithoutAbsolute, test.ShouldBeTrue)
	test.That(t, s.HasAbsoluteOrientation, test.ShouldBeFalse)
	test.That(t, s.GyroOrientation, test.ShouldResemble, Orientation{})

	// A later fix does not reseed; fusion pulls toward it over time.
	test.That(t, e.OnAccelMagSample(levelGravity, r3.Vector{X: 20, Z: -40}), test.ShouldBeNil)
	e.OnGyroSample(r3.Vector{}, 20)
	test.That(t, e.State().SeededWithoutAbsolute, test.ShouldBeTrue)
	test.That(t, e.FusedOrientation().Azimuth, test.ShouldAlmostEqual, 0.02*-math.Pi/2, 1e-9)
}

func TestEngine_WaitForAbsolute(t *testing.T) {
	e := New(Config{WaitForAbsolute: true})
	test.That(t, e.OnGyroSample(r3.Vector{Z: 1}, 100), test.ShouldBeFalse)
	test.That(t, e.Phase(), test.ShouldEqual, PhaseUninitialized)
	test.That(t, e.State().LastGyroTimestamp, test.ShouldEqual, int64(0))

	test.That(t, e.OnAccelMagSample(levelGravity, northField), test.ShouldBeNil)
	e.OnGyroSample(r3.Vector{Z: 1}, 200)
	test.That(t, e.Phase(), test.ShouldEqual, PhaseSeeded)
	test.That(t, e.State().SeededWithoutAbsolute, test.ShouldBeFalse)
}

func TestEngine_ConvergesToAbsoluteAfterDrift(t *testing.T) {
	e := New(Config{})
	test.That(t, e.OnAccelMagSample(levelGravity, northField), test.ShouldBeNil)

	// A biased gyro at rest drifts; the absolute fix keeps the error bounded.
	bias := r3.Vector{X: 0.01, Y: -0.02, Z: 0.05}
	ts := int64(1)
	for i := 0; i < 6000; i++ {
		e.OnGyroSample(bias, ts)
		ts += 10_000_000
	}
	got := e.FusedOrientation()
	// Steady state error is alpha/(1-alpha) * rate * dt.
	limit := 0.98 / 0.02 * 0.05 * 0.01 * 1.5
	test.That(t, math.Abs(got.Azimuth), test.ShouldBeLessThan, limit)
	test.That(t, math.Abs(got.Pitch), test.ShouldBeLessThan, limit)
	test.That(t, math.Abs(got.Roll), test.ShouldBeLessThan, limit)
}

func TestEngine_Reset(t *testing.T) {
	e := New(Config{})
	_ = e.OnAccelMagSample(levelGravity, northField)
	e.OnGyroSample(r3.Vector{Z: 1}, 1)
	e.OnGyroSample(r3.Vector{Z: 1}, 2_000_000)

	e.Reset()
	test.That(t, e.State(), test.ShouldResemble, NewState())
	test.That(t, e.Phase(), test.ShouldEqual, PhaseUninitialized)
	test.That(t, PhaseSeeded.String(), test.ShouldEqual, "seeded")
}
