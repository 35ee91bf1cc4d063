package gdl90

import (
	"bytes"
	"testing"
	"time"
)

func unframeAndCheckCRC(t *testing.T, frame []byte) []byte {
	t.Helper()
	msg, crcOK, err := Unframe(frame)
	if err != nil {
		t.Fatalf("Unframe: %v", err)
	}
	if !crcOK {
		t.Fatalf("crc mismatch for frame % X", frame)
	}
	return msg
}

func assertBytes(t *testing.T, got, want []byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("unexpected len: got %d want %d (msg=% X)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte[%d] mismatch: got 0x%02X want 0x%02X (msg=% X)", i, got[i], want[i], got)
		}
	}
}

func TestFrame_StartEndFlags(t *testing.T) {
	got := Frame([]byte{0x00, 0x01})
	if got[0] != flagByte || got[len(got)-1] != flagByte {
		t.Fatalf("missing flags: % X", got)
	}
}

func TestFrame_EscapesControlBytesAndRoundTrips(t *testing.T) {
	in := []byte{0x00, flagByte, escapeByte, 0x42}
	got := Frame(in)
	for i := 1; i < len(got)-1; i++ {
		if got[i] == flagByte {
			t.Fatalf("unescaped flag byte found at %d", i)
		}
	}
	msg := unframeAndCheckCRC(t, got)
	if !bytes.Equal(msg, in) {
		t.Fatalf("round trip: got % X want % X", msg, in)
	}
	if in[1] != flagByte {
		t.Fatalf("Frame modified its input")
	}
}

func TestFrame_ICDHeartbeatExample(t *testing.T) {
	got := Frame([]byte{0x00, 0x81, 0x41, 0xDB, 0xD0, 0x08, 0x02})
	assertBytes(t, got, []byte{0x7E, 0x00, 0x81, 0x41, 0xDB, 0xD0, 0x08, 0x02, 0xB3, 0x8B, 0x7E})
}

func TestUnframe_Malformed(t *testing.T) {
	cases := [][]byte{
		{0x7E, 0x7E},
		{0x00, 0x01, 0x02, 0x7E},
		{0x7E, 0x01, 0x02, 0x7D, 0x7E},
		{0x7E, 0x01, 0x7E, 0x7E},
	}
	for _, c := range cases {
		if _, _, err := Unframe(c); err == nil {
			t.Fatalf("expected error for % X", c)
		}
	}

	frame := Frame([]byte{0x01, 0x02})
	frame[1] ^= 0xFF
	if _, ok, err := Unframe(frame); err != nil || ok {
		t.Fatalf("corrupted frame: ok=%v err=%v, want crc failure", ok, err)
	}
}

func TestGolden_Heartbeat(t *testing.T) {
	nowUTC := time.Date(2020, time.January, 1, 1, 2, 3, 0, time.UTC) // 01:02:03
	msg := unframeAndCheckCRC(t, HeartbeatFrameAt(nowUTC, true, false))
	assertBytes(t, msg, []byte{0x00, 0x91, 0x01, 0x8B, 0x0E, 0x00, 0x00})

	// 23:59:59 has timestamp bit 16 set; no UTC.
	late := time.Date(2020, time.January, 1, 23, 59, 59, 0, time.UTC)
	msg = unframeAndCheckCRC(t, HeartbeatFrameAt(late, false, true))
	assertBytes(t, msg, []byte{0x00, 0x51, 0x80, 0x7F, 0x51, 0x00, 0x00})
}

func TestStratuxHeartbeatFrame(t *testing.T) {
	msg := unframeAndCheckCRC(t, StratuxHeartbeatFrame(false, true))
	assertBytes(t, msg, []byte{0xCC, 0x05})
}

func TestForeFlightIDFrame(t *testing.T) {
	msg := unframeAndCheckCRC(t, ForeFlightIDFrame("", "a-very-long-device-name"))
	if len(msg) != 39 || msg[0] != 0x65 || msg[1] != 0x00 {
		t.Fatalf("unexpected header: % X", msg[:3])
	}
	if got := string(bytes.TrimRight(msg[11:19], "\x00")); got != "gyrofus" {
		t.Fatalf("short name=%q", got)
	}
	if got := string(msg[19:35]); got != "a-very-long-devi" {
		t.Fatalf("long name=%q", got)
	}
}

func TestGolden_ForeFlightAHRS(t *testing.T) {
	msg := unframeAndCheckCRC(t, ForeFlightAHRSFrame(Attitude{
		Valid:        true,
		RollDeg:      -10.04,
		PitchDeg:     5,
		HeadingDeg:   -90,
		HeadingValid: true,
	}))
	assertBytes(t, msg, []byte{
		0x65, 0x01,
		0xFF, 0x9C, // roll -10.0 => -100
		0x00, 0x32, // pitch 5.0 => 50
		0x8A, 0x8C, // heading 270.0 => 2700 | magnetic
		0xFF, 0xFF,
		0xFF, 0xFF,
	})
}

func TestForeFlightAHRS_Invalid(t *testing.T) {
	msg := unframeAndCheckCRC(t, ForeFlightAHRSFrame(Attitude{RollDeg: 30}))
	assertBytes(t, msg, []byte{0x65, 0x01, 0x7F, 0xFF, 0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	// Attitude without a heading fix.
	msg = unframeAndCheckCRC(t, ForeFlightAHRSFrame(Attitude{Valid: true}))
	if msg[6] != 0xFF || msg[7] != 0xFF {
		t.Fatalf("heading=% X want invalid", msg[6:8])
	}
}

func TestGolden_AHRSGDL90LE_LevelVector(t *testing.T) {
	msg := unframeAndCheckCRC(t, AHRSGDL90LEFrame(Attitude{
		Valid:        true,
		HeadingDeg:   90,
		HeadingValid: true,
		YawRateDps:   -3,
		GLoad:        1.0,
	}))
	assertBytes(t, msg, []byte{
		0x4C, 0x45, 0x01, 0x01,
		0x00, 0x00, // roll
		0x00, 0x00, // pitch
		0x03, 0x84, // heading 90.0 => 900
		0x7F, 0xFF, // slip/skid
		0xFF, 0xE2, // yaw rate -3.0 => -30
		0x00, 0x0A, // g-load 1.0 => 10
		0x7F, 0xFF, // airspeed
		0xFF, 0xFF, // palt
		0x7F, 0xFF, // vs
		0x7F, 0xFF,
	})
}

func TestDeg10_Saturates(t *testing.T) {
	if got := deg10(1e6); got != 32767 {
		t.Fatalf("deg10(1e6)=%d", got)
	}
	if got := deg10(-1e6); got != -32768 {
		t.Fatalf("deg10(-1e6)=%d", got)
	}
}

func TestNormHeading(t *testing.T) {
	cases := map[float64]float64{-90: 270, 360: 0, 359.97: 0, 45: 45}
	for in, want := range cases {
		if got := normHeading(in); got != want {
			t.Fatalf("normHeading(%v)=%v want %v", in, got, want)
		}
	}
}
