package fusion

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestMatrixMul(t *testing.T) {
	a := Matrix3{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	b := Matrix3{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	}

	t.Run("identity", func(t *testing.T) {
		test.That(t, a.Mul(Identity()), test.ShouldResemble, a)
		test.That(t, Identity().Mul(a), test.ShouldResemble, a)
	})

	t.Run("row by column", func(t *testing.T) {
		want := Matrix3{
			-2, 1, 3,
			-5, 4, 6,
			-8, 7, 9,
		}
		test.That(t, a.Mul(b), test.ShouldResemble, want)
	})

	t.Run("accumulating into an operand", func(t *testing.T) {
		want := a.Mul(b)
		acc := a
		acc = acc.Mul(b)
		test.That(t, acc, test.ShouldResemble, want)
		// the left operand value is untouched
		test.That(t, a.At(0, 0), test.ShouldEqual, 1.0)
	})
}

func TestMatrixTransposeApply(t *testing.T) {
	r := MatrixFromOrientation(Orientation{Azimuth: 0.7, Pitch: -0.3, Roll: 1.1})
	v := r3.Vector{X: 1, Y: -2, Z: 0.5}

	back := r.Transpose().Apply(r.Apply(v))
	test.That(t, back.X, test.ShouldAlmostEqual, v.X, 1e-12)
	test.That(t, back.Y, test.ShouldAlmostEqual, v.Y, 1e-12)
	test.That(t, back.Z, test.ShouldAlmostEqual, v.Z, 1e-12)
}

func TestOrthonormalWithin(t *testing.T) {
	test.That(t, Identity().OrthonormalWithin(1e-12), test.ShouldBeTrue)
	test.That(t, MatrixFromOrientation(Orientation{Azimuth: 2, Pitch: 1, Roll: -2}).OrthonormalWithin(1e-9), test.ShouldBeTrue)

	skewed := Identity()
	skewed[1] = 0.1
	test.That(t, skewed.OrthonormalWithin(1e-4), test.ShouldBeFalse)

	scaled := Identity()
	scaled[8] = 1.01
	test.That(t, scaled.OrthonormalWithin(1e-4), test.ShouldBeFalse)
}
