package imu

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"gyrofusion/internal/fusion"
	"gyrofusion/internal/sensors/ak09916"
	"gyrofusion/internal/sensors/icm20948"
)

type fakeIMU struct {
	s   icm20948.Sample
	err error
}

func (f *fakeIMU) Read() (icm20948.Sample, error) { return f.s, f.err }

type fakeMag struct {
	v      r3.Vector
	err    error
	closed bool
}

func (f *fakeMag) Read() (r3.Vector, error) { return f.v, f.err }
func (f *fakeMag) Close() error              { f.closed = true; return nil }

type fakeBus struct {
	closed int
	err    error
}

func (f *fakeBus) Close() error { f.closed++; return f.err }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestSource() (*I2CSource, *fakeIMU, *fakeMag, *fakeBus, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	ag := &fakeIMU{s: icm20948.Sample{Accel: r3.Vector{Z: 9.8}, Gyro: r3.Vector{Z: 0.1}}}
	// Raw AK09916 reading of a north-pointing field with the board level: Y and Z inverted.
	mag := &fakeMag{v: r3.Vector{Y: -20, Z: 40}}
	bus := &fakeBus{}
	return newI2CSource(bus, ag, mag, clk.now), ag, mag, bus, clk
}

func TestI2CSource_ReadCombinesSensors(t *testing.T) {
	src, _, _, _, clk := newTestSource()
	clk.t = clk.t.Add(20 * time.Millisecond)

	s, err := src.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.TimestampNs != int64(20*time.Millisecond)+1 {
		t.Fatalf("TimestampNs=%d", s.TimestampNs)
	}
	if s.Accel.Z != 9.8 || s.Gyro.Z != 0.1 {
		t.Fatalf("accel/gyro=%v/%v", s.Accel, s.Gyro)
	}
	if !s.MagValid || s.Mag != (r3.Vector{Y: 20, Z: -40}) {
		t.Fatalf("mag=%v valid=%v want device-frame (0,20,-40)", s.Mag, s.MagValid)
	}
}

func TestI2CSource_MagAxesLevelNorthGivesZeroAzimuth(t *testing.T) {
	src, _, _, _, _ := newTestSource()

	s, err := src.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	r, err := fusion.RotationMatrixFromVectors(s.Accel, s.Mag)
	if err != nil {
		t.Fatalf("RotationMatrixFromVectors: %v", err)
	}
	if az := fusion.OrientationFromMatrix(r).Azimuth; math.Abs(az) > 1e-6 {
		t.Fatalf("azimuth=%v want 0 for a level board facing north", az)
	}
}

func TestI2CSource_MagKeepsXInvertsYZ(t *testing.T) {
	src, _, mag, _, _ := newTestSource()
	mag.v = r3.Vector{X: 3, Y: 4, Z: 5}

	s, err := src.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Mag != (r3.Vector{X: 3, Y: -4, Z: -5}) {
		t.Fatalf("mag=%v want (3,-4,-5)", s.Mag)
	}
}

func TestI2CSource_TimestampNeverZero(t *testing.T) {
	src, _, _, _, _ := newTestSource()
	s, err := src.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.TimestampNs == 0 {
		t.Fatalf("TimestampNs=0 at epoch")
	}
}

func TestI2CSource_MagNotReadyIsNotAnError(t *testing.T) {
	src, _, mag, _, _ := newTestSource()
	mag.err = ak09916.ErrNotReady

	s, err := src.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.MagValid {
		t.Fatalf("MagValid=true want false")
	}
}

func TestI2CSource_MagOverflowCounted(t *testing.T) {
	src, _, mag, _, _ := newTestSource()
	mag.err = ak09916.ErrOverflow

	for i := 0; i < 3; i++ {
		if _, err := src.Read(); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if got := src.MagOverflows(); got != 3 {
		t.Fatalf("MagOverflows=%d want 3", got)
	}
}

func TestI2CSource_ReadErrors(t *testing.T) {
	src, ag, mag, _, _ := newTestSource()

	ag.err = errors.New("nak")
	if _, err := src.Read(); err == nil {
		t.Fatalf("expected imu error")
	}

	ag.err = nil
	mag.err = errors.New("bus fault")
	if _, err := src.Read(); err == nil {
		t.Fatalf("expected mag error")
	}
}

func TestI2CSource_CloseCombinesErrors(t *testing.T) {
	src, _, mag, bus, _ := newTestSource()
	bus.err = errors.New("close failed")

	if err := src.Close(); err == nil {
		t.Fatalf("expected close error")
	}
	if !mag.closed || bus.closed != 1 {
		t.Fatalf("mag.closed=%v bus.closed=%d", mag.closed, bus.closed)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if bus.closed != 1 {
		t.Fatalf("bus closed twice")
	}
}
