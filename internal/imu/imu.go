// Package imu defines the raw sample model shared by every sensor source and the fusion service.
package imu

import (
	"github.com/golang/geo/r3"
)

// Sample is one combined reading in the device frame.
type Sample struct {
	// TimestampNs is a monotonic timestamp in nanoseconds. Zero is reserved as "no timestamp".
	TimestampNs int64

	Accel r3.Vector // m/s², includes gravity
	Gyro  r3.Vector // rad/s
	Mag   r3.Vector // µT

	// MagValid is false when the magnetometer had no new measurement for this sample.
	MagValid bool
}

// Source produces samples. Read may block until the next sample is due.
type Source interface {
	Read() (Sample, error)
	Close() error
}
