package icm20948

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"gyrofusion/internal/i2c"
)

var sleep = time.Sleep

// ICM-20948 accelerometer + gyroscope driver.
//
// The on-die AK09916 magnetometer hangs off the chip's auxiliary I2C bus. We turn the internal I2C
// master off and enable bypass so the magnetometer shows up on the host bus at 0x0C and can be
// driven by package ak09916 directly.

const (
	addrDefault = 0x68

	regBankSel = 0x7F

	// Bank 0.
	regWhoAmI     = 0x00
	whoAmIVal     = 0xEA
	regUserCtrl   = 0x03
	bitI2CMstEn   = 0x20
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	clkAuto       = 0x01
	regIntPinCfg  = 0x0F
	bitBypassEn   = 0x02
	regIntEnable1 = 0x11
	bitRawRdyEn   = 0x01
	regAccelXoutH = 0x2D // accel XYZ then gyro XYZ, big-endian

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig1  = 0x01
	regAccelSmplrt1 = 0x10
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14
	bitFChoice      = 0x01

	// Internal output data rate base for both sensors.
	baseRateHz = 1125

	standardGravity = 9.80665
)

var gyroRanges = map[int]byte{250: 0, 500: 1, 1000: 2, 2000: 3}
var accelRanges = map[int]byte{2: 0, 4: 1, 8: 2, 16: 3}

// Options selects full-scale ranges and output data rate.
type Options struct {
	GyroFullScaleDps int // 250, 500, 1000 or 2000
	AccelFullScaleG  int // 2, 4, 8 or 16
	SampleRateHz     int
	// DataReadyInterrupt raises INT1 whenever a new accel/gyro sample is latched.
	DataReadyInterrupt bool
}

func (o Options) withDefaults() Options {
	if o.GyroFullScaleDps == 0 {
		o.GyroFullScaleDps = 500
	}
	if o.AccelFullScaleG == 0 {
		o.AccelFullScaleG = 4
	}
	if o.SampleRateHz <= 0 {
		o.SampleRateHz = 100
	}
	return o
}

// Sample is one accel/gyro reading in SI units, device frame.
type Sample struct {
	Accel r3.Vector // m/s²
	Gyro  r3.Vector // rad/s
}

type Device struct {
	dev regIO

	curBank    byte
	scaleAccel float64 // m/s² per LSB
	scaleGyro  float64 // rad/s per LSB
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev, opts)
}

func newWithIO(dev regIO, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	opts = opts.withDefaults()
	gyroSel, ok := gyroRanges[opts.GyroFullScaleDps]
	if !ok {
		return nil, fmt.Errorf("icm20948: unsupported gyro range %d dps", opts.GyroFullScaleDps)
	}
	accelSel, ok := accelRanges[opts.AccelFullScaleG]
	if !ok {
		return nil, fmt.Errorf("icm20948: unsupported accel range %d g", opts.AccelFullScaleG)
	}

	d := &Device{dev: dev, curBank: 0xFF}
	if err := d.setBank(0); err != nil {
		return nil, err
	}
	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(opts, gyroSel, accelSel); err != nil {
		return nil, err
	}
	d.scaleAccel = float64(opts.AccelFullScaleG) * standardGravity / 32768.0
	d.scaleGyro = float64(opts.GyroFullScaleDps) * math.Pi / 180.0 / 32768.0
	return d, nil
}

func (d *Device) init(opts Options, gyroSel, accelSel byte) error {
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset returns the chip to bank 0.
	d.curBank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.dev.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("icm20948: disable i2c master failed: %w", err)
	}
	if err := d.dev.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: enable bypass failed: %w", err)
	}
	intEnable := byte(0)
	if opts.DataReadyInterrupt {
		intEnable = bitRawRdyEn
	}
	if err := d.dev.WriteReg(regIntEnable1, intEnable); err != nil {
		return fmt.Errorf("icm20948: interrupt config failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	div := sampleRateDivider(opts.SampleRateHz)
	if err := d.dev.WriteReg(regGyroSmplrt, byte(div)); err != nil {
		return fmt.Errorf("icm20948: gyro rate failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelSmplrt1, byte(div>>8)); err != nil {
		return fmt.Errorf("icm20948: accel rate failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelSmplrt2, byte(div)); err != nil {
		return fmt.Errorf("icm20948: accel rate failed: %w", err)
	}
	if err := d.dev.WriteReg(regGyroConfig1, gyroSel<<1|bitFChoice); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, accelSel<<1|bitFChoice); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	return d.setBank(0)
}

// sampleRateDivider returns div such that 1125/(div+1) is closest to hz. The gyro divider is
// 8 bits wide, so the slowest rate is about 4.4 Hz.
func sampleRateDivider(hz int) int {
	div := int(math.Round(baseRateHz/float64(hz))) - 1
	if div < 0 {
		return 0
	}
	if div > 0xFF {
		return 0xFF
	}
	return div
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// Read returns the latest accel and gyro sample.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	raw := func(i int) float64 { return float64(int16(buf[i])<<8 | int16(buf[i+1])) }

	return Sample{
		Accel: r3.Vector{X: raw(0), Y: raw(2), Z: raw(4)}.Mul(d.scaleAccel),
		Gyro:  r3.Vector{X: raw(6), Y: raw(8), Z: raw(10)}.Mul(d.scaleGyro),
	}, nil
}
