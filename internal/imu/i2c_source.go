package imu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"gyrofusion/internal/i2c"
	"gyrofusion/internal/sensors/ak09916"
	"gyrofusion/internal/sensors/icm20948"
)

type I2CConfig struct {
	Bus       int
	IMUAddr   uint16
	MagAddr   uint16
	RateHz    int
	GyroDps   int
	AccelG    int
	DataReady bool
}

type accelGyro interface {
	Read() (icm20948.Sample, error)
}

type magnetometer interface {
	Read() (r3.Vector, error)
	Close() error
}

// I2CSource reads an ICM-20948 and its AK09916 magnetometer over one Linux I2C bus.
type I2CSource struct {
	mu sync.Mutex

	bus   closer
	imu   accelGyro
	mag   magnetometer
	epoch time.Time
	now   func() time.Time

	magOverflows int
}

type closer interface {
	Close() error
}

func OpenI2C(cfg I2CConfig) (*I2CSource, error) {
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = icm20948.DefaultAddress()
	}
	if cfg.MagAddr == 0 {
		cfg.MagAddr = ak09916.DefaultAddress()
	}

	bus, err := i2c.Open(i2c.BusPath(cfg.Bus))
	if err != nil {
		return nil, err
	}

	imu, err := icm20948.New(bus.Dev(cfg.IMUAddr), icm20948.Options{
		GyroFullScaleDps:   cfg.GyroDps,
		AccelFullScaleG:    cfg.AccelG,
		SampleRateHz:       cfg.RateHz,
		DataReadyInterrupt: cfg.DataReady,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("imu: %w", err), bus.Close())
	}

	// The magnetometer only appears on the bus after the ICM-20948 has enabled bypass.
	mag, err := ak09916.New(bus.Dev(cfg.MagAddr), ak09916.ModeForRate(cfg.RateHz))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("imu: %w", err), bus.Close())
	}

	return newI2CSource(bus, imu, mag, time.Now), nil
}

func newI2CSource(bus closer, imu accelGyro, mag magnetometer, now func() time.Time) *I2CSource {
	return &I2CSource{bus: bus, imu: imu, mag: mag, epoch: now(), now: now}
}

// Read samples accel and gyro, then polls the magnetometer. A magnetometer with no fresh
// measurement yields MagValid=false rather than an error.
func (s *I2CSource) Read() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ag, err := s.imu.Read()
	if err != nil {
		return Sample{}, fmt.Errorf("imu: %w", err)
	}
	out := Sample{
		TimestampNs: s.timestamp(),
		Accel:       ag.Accel,
		Gyro:        ag.Gyro,
	}

	m, err := s.mag.Read()
	switch {
	case err == nil:
		out.Mag = magToDevice(m)
		out.MagValid = true
	case errors.Is(err, ak09916.ErrNotReady):
	case errors.Is(err, ak09916.ErrOverflow):
		s.magOverflows++
	default:
		return Sample{}, fmt.Errorf("imu: %w", err)
	}
	return out, nil
}

// magToDevice maps the AK09916 die axes onto the ICM-20948 accel/gyro axes. Inside the package the
// magnetometer shares X but its Y and Z point the other way.
func magToDevice(m r3.Vector) r3.Vector {
	return r3.Vector{X: m.X, Y: -m.Y, Z: -m.Z}
}

// MagOverflows reports how many magnetometer samples were dropped for saturation.
func (s *I2CSource) MagOverflows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.magOverflows
}

// timestamp is nanoseconds since the source opened, offset by one so it is never zero.
func (s *I2CSource) timestamp() int64 {
	return s.now().Sub(s.epoch).Nanoseconds() + 1
}

func (s *I2CSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.mag != nil {
		err = multierr.Append(err, s.mag.Close())
		s.mag = nil
	}
	if s.bus != nil {
		err = multierr.Append(err, s.bus.Close())
		s.bus = nil
	}
	return err
}
