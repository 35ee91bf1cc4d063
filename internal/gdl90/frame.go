// Package gdl90 encodes attitude for EFB apps that speak GDL90 over UDP.
package gdl90

import "fmt"

const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	escapeXor  = 0x20
)

// crcTable drives the CRC-CCITT (polynomial 0x1021, zero init) that GDL90 appends to every message.
var crcTable = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crcTable[crc>>8] ^ crc<<8 ^ uint16(b)
	}
	return crc
}

// Frame appends the CRC (low byte first) to message, byte-stuffs flag and escape bytes, and wraps
// the result in 0x7E flags.
func Frame(message []byte) []byte {
	crc := crc16(message)
	out := make([]byte, 0, 2*len(message)+6)
	out = append(out, flagByte)
	for _, b := range append(message[:len(message):len(message)], byte(crc), byte(crc>>8)) {
		if b == flagByte || b == escapeByte {
			out = append(out, escapeByte, b^escapeXor)
			continue
		}
		out = append(out, b)
	}
	return append(out, flagByte)
}

// Unframe reverses Frame. It returns the message without CRC and whether the CRC matched; err is
// set only for malformed framing.
func Unframe(frame []byte) (msg []byte, crcOK bool, err error) {
	if len(frame) < 4 {
		return nil, false, fmt.Errorf("gdl90: frame too short: %d", len(frame))
	}
	if frame[0] != flagByte || frame[len(frame)-1] != flagByte {
		return nil, false, fmt.Errorf("gdl90: missing start/end flags")
	}

	raw := make([]byte, 0, len(frame))
	body := frame[1 : len(frame)-1]
	for i := 0; i < len(body); i++ {
		b := body[i]
		if b == escapeByte {
			i++
			if i >= len(body) {
				return nil, false, fmt.Errorf("gdl90: truncated escape at end of frame")
			}
			b = body[i] ^ escapeXor
		}
		raw = append(raw, b)
	}
	if len(raw) < 3 {
		return nil, false, fmt.Errorf("gdl90: unescaped payload too short: %d", len(raw))
	}

	msg = raw[:len(raw)-2]
	got := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	return msg, got == crc16(msg), nil
}
