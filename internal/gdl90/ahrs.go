package gdl90

import (
	"encoding/binary"
	"math"
)

// Attitude is what the AHRS messages carry. Angles in degrees.
//
// Scaling follows Stratux: angles and yaw rate in 0.1 units, g-load ×10 in the LE report. Invalid
// fields use the 0x7FFF / 0xFFFF sentinels.
type Attitude struct {
	Valid bool

	RollDeg  float64
	PitchDeg float64

	// HeadingDeg is magnetic heading in [0, 360). HeadingValid is false when no magnetometer fix
	// has been blended in yet.
	HeadingDeg   float64
	HeadingValid bool

	YawRateDps float64
	GLoad      float64
}

const (
	invalidI16 = 0x7FFF
	invalidU16 = 0xFFFF

	// ForeFlight heading MSB: 1 = magnetic.
	headingMagnetic = 0x8000
)

// ForeFlightAHRSFrame builds the ForeFlight AHRS message (0x65, sub-id 0x01).
func ForeFlightAHRSFrame(a Attitude) []byte {
	msg := make([]byte, 12)
	msg[0] = 0x65
	msg[1] = 0x01

	roll, pitch := uint16(invalidI16), uint16(invalidI16)
	hdg := uint16(invalidU16)
	if a.Valid {
		roll = uint16(deg10(a.RollDeg))
		pitch = uint16(deg10(a.PitchDeg))
		if a.HeadingValid {
			hdg = uint16(deg10(normHeading(a.HeadingDeg))) | headingMagnetic
		}
	}
	binary.BigEndian.PutUint16(msg[2:], roll)
	binary.BigEndian.PutUint16(msg[4:], pitch)
	binary.BigEndian.PutUint16(msg[6:], hdg)
	// No airdata: IAS and TAS invalid.
	binary.BigEndian.PutUint16(msg[8:], invalidU16)
	binary.BigEndian.PutUint16(msg[10:], invalidU16)
	return Frame(msg)
}

// AHRSGDL90LEFrame builds the Stratux "LE" AHRS report (payload prefix 0x4C 0x45 0x01 0x01).
// Slip/skid, airspeed, pressure altitude and vertical speed are always invalid here.
func AHRSGDL90LEFrame(a Attitude) []byte {
	msg := make([]byte, 24)
	copy(msg, []byte{0x4C, 0x45, 0x01, 0x01})

	fields := [9]uint16{
		invalidI16, // roll
		invalidI16, // pitch
		invalidI16, // heading
		invalidI16, // slip/skid
		invalidI16, // yaw rate
		invalidI16, // g
		invalidI16, // IAS
		invalidU16, // pressure altitude
		invalidI16, // vertical speed
	}
	if a.Valid {
		fields[0] = uint16(deg10(a.RollDeg))
		fields[1] = uint16(deg10(a.PitchDeg))
		if a.HeadingValid {
			fields[2] = uint16(deg10(normHeading(a.HeadingDeg)))
		}
		fields[4] = uint16(deg10(a.YawRateDps))
		if a.GLoad > 0 {
			fields[5] = uint16(deg10(a.GLoad))
		}
	}
	for i, v := range fields {
		binary.BigEndian.PutUint16(msg[4+2*i:], v)
	}
	// Reserved.
	msg[22] = 0x7F
	msg[23] = 0xFF
	return Frame(msg)
}

// deg10 rounds to 0.1 units and saturates to int16.
func deg10(deg float64) int16 {
	v := math.Round(deg * 10)
	return int16(math.Max(-32768, math.Min(32767, v)))
}

func normHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	// 359.96 rounds to 3600.
	if math.Round(h*10) >= 3600 {
		h = 0
	}
	return h
}
