package ak09916

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"gyrofusion/internal/i2c"
)

var sleep = time.Sleep

// AK09916 3-axis magnetometer, as found inside the ICM-20948.
//
// The host reaches it directly once the ICM-20948 has bypass enabled.

const (
	addrDefault = 0x0C

	regWIA2 = 0x01
	wia2Val = 0x09

	regST1   = 0x10
	bitDRDY  = 0x01
	regHXL   = 0x11 // HXL..HZH, little-endian
	regST2   = 0x18
	bitHOFL  = 0x08
	regCNTL2 = 0x31
	regCNTL3 = 0x32
	bitSRST  = 0x01

	// Sensitivity in µT per LSB.
	scaleMicroTesla = 0.15
)

// Mode is a CNTL2 operating mode.
type Mode byte

const (
	ModePowerDown       Mode = 0x00
	ModeSingle          Mode = 0x01
	ModeContinuous10Hz  Mode = 0x02
	ModeContinuous20Hz  Mode = 0x04
	ModeContinuous50Hz  Mode = 0x06
	ModeContinuous100Hz Mode = 0x08
)

// ModeForRate picks the slowest continuous mode that is at least hz.
func ModeForRate(hz int) Mode {
	switch {
	case hz <= 10:
		return ModeContinuous10Hz
	case hz <= 20:
		return ModeContinuous20Hz
	case hz <= 50:
		return ModeContinuous50Hz
	default:
		return ModeContinuous100Hz
	}
}

var (
	// ErrNotReady means no new measurement has been latched since the last read.
	ErrNotReady = errors.New("ak09916: data not ready")
	// ErrOverflow means the measured field exceeded the sensor range. The sample is discarded.
	ErrOverflow = errors.New("ak09916: magnetic sensor overflow")
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Device struct {
	dev  regIO
	mode Mode
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, mode Mode) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ak09916: dev is nil")
	}
	return newWithIO(dev, mode)
}

func newWithIO(dev regIO, mode Mode) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ak09916: dev is nil")
	}
	d := &Device{dev: dev, mode: mode}

	who, err := d.dev.ReadRegU8(regWIA2)
	if err != nil {
		return nil, fmt.Errorf("ak09916: wia2 read failed: %w", err)
	}
	if who != wia2Val {
		return nil, fmt.Errorf("ak09916: wia2=0x%02X want 0x%02X", who, wia2Val)
	}

	if err := d.dev.WriteReg(regCNTL3, bitSRST); err != nil {
		return nil, fmt.Errorf("ak09916: reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.dev.WriteReg(regCNTL2, byte(mode)); err != nil {
		return nil, fmt.Errorf("ak09916: set mode failed: %w", err)
	}
	return d, nil
}

func (d *Device) Mode() Mode { return d.mode }

// Read returns the magnetic field in µT, sensor frame. It returns ErrNotReady when no new
// measurement is available and ErrOverflow when the measurement saturated.
func (d *Device) Read() (r3.Vector, error) {
	if d == nil {
		return r3.Vector{}, fmt.Errorf("ak09916: device is nil")
	}
	st1, err := d.dev.ReadRegU8(regST1)
	if err != nil {
		return r3.Vector{}, fmt.Errorf("ak09916: st1 read failed: %w", err)
	}
	if st1&bitDRDY == 0 {
		return r3.Vector{}, ErrNotReady
	}

	// Reading through ST2 releases the data lock, so include it in the burst.
	var buf [8]byte
	if err := d.dev.ReadReg(regHXL, buf[:]); err != nil {
		return r3.Vector{}, fmt.Errorf("ak09916: read data failed: %w", err)
	}
	if buf[7]&bitHOFL != 0 {
		return r3.Vector{}, ErrOverflow
	}
	raw := func(i int) float64 { return float64(int16(buf[i+1])<<8 | int16(buf[i])) }
	return r3.Vector{X: raw(0), Y: raw(2), Z: raw(4)}.Mul(scaleMicroTesla), nil
}

// Close puts the magnetometer into power-down mode.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	if err := d.dev.WriteReg(regCNTL2, byte(ModePowerDown)); err != nil {
		return fmt.Errorf("ak09916: power down failed: %w", err)
	}
	return nil
}
