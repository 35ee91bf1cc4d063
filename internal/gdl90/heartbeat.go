package gdl90

import (
	"strings"
	"time"
)

// HeartbeatFrameAt builds the standard GDL90 heartbeat (0x00) for time now. EFBs drop the link when
// it stops arriving once per second.
func HeartbeatFrameAt(now time.Time, utcOK, maintenanceRequired bool) []byte {
	msg := make([]byte, 7)
	msg[0] = 0x00

	// Status byte 1: bit0 initialized, bit4 address talkback, bit6 maintenance, bit7 GPS position
	// valid.
	status := byte(0x01 | 0x10)
	if utcOK {
		status |= 0x80
	}
	if maintenanceRequired {
		status |= 0x40
	}
	msg[1] = status

	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	secs := uint32(now.Sub(midnight) / time.Second)

	// Status byte 2 carries timestamp bit 16 in bit7 and UTC OK in bit0.
	msg[2] = byte(secs>>16) << 7
	if utcOK {
		msg[2] |= 0x01
	}
	msg[3] = byte(secs)
	msg[4] = byte(secs >> 8)
	return Frame(msg)
}

// StratuxHeartbeatFrame builds the Stratux heartbeat (0xCC) that apps use to detect an AHRS source.
func StratuxHeartbeatFrame(gpsValid, ahrsValid bool) []byte {
	const protocolVersion = 1
	b := byte(protocolVersion << 2)
	if ahrsValid {
		b |= 0x01
	}
	if gpsValid {
		b |= 0x02
	}
	return Frame([]byte{0xCC, b})
}

// ForeFlightIDFrame builds the ForeFlight device ID message (0x65, sub-id 0x00).
func ForeFlightIDFrame(shortName, longName string) []byte {
	msg := make([]byte, 39)
	msg[0] = 0x65
	msg[1] = 0x00
	msg[2] = 0x01 // version

	// Serial number unknown.
	for i := 3; i <= 10; i++ {
		msg[i] = 0xFF
	}
	copy(msg[11:19], fitName(shortName, "gyrofus", 8))
	copy(msg[19:35], fitName(longName, "gyrofusion", 16))
	// Capabilities: none beyond AHRS.
	msg[38] = 0x00
	return Frame(msg)
}

func fitName(s, fallback string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = fallback
	}
	if len(s) > n {
		s = s[:n]
	}
	return s
}
