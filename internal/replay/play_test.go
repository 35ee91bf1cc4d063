package replay

import (
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"gyrofusion/internal/imu"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func rec(at time.Duration, gz float64) Record {
	return Record{At: at, Sample: imu.Sample{Accel: r3.Vector{Z: 9.81}, Gyro: r3.Vector{Z: gz}}}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}

	recs := []Record{
		{At: 1 * time.Second, Start: true},
		rec(1*time.Second, 1),
		rec(1*time.Second+100*time.Nanosecond, 2),
		{At: 2 * time.Second, Start: true},
		rec(2*time.Second+50*time.Nanosecond, 3),
	}

	var got []imu.Sample
	err := Play(recs, 1.0, false, fs, func(s imu.Sample) error {
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, want := range []float64{1, 2, 3} {
		if got[i].Gyro.Z != want {
			t.Fatalf("sample[%d].Gyro.Z = %v, want %v", i, got[i].Gyro.Z, want)
		}
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_TimestampsOffsetAndMonotonic(t *testing.T) {
	recs := []Record{
		{Start: true},
		rec(0, 0),
		rec(10*time.Millisecond, 0),
		{Start: true},
		rec(0, 0),
		rec(5*time.Millisecond, 0),
	}

	var ts []int64
	if err := Play(recs, 1.0, false, &fakeSleeper{}, func(s imu.Sample) error {
		ts = append(ts, s.TimestampNs)
		return nil
	}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	base := int64(time.Second)
	want := []int64{
		base,
		base + int64(10*time.Millisecond),
		base + int64(10*time.Millisecond),
		base + int64(15*time.Millisecond),
	}
	if !reflect.DeepEqual(ts, want) {
		t.Fatalf("timestamps = %v, want %v", ts, want)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{rec(0, 0), rec(100*time.Nanosecond, 0)}

	if err := Play(recs, 2.0, false, fs, func(imu.Sample) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_InvalidInput(t *testing.T) {
	recs := []Record{rec(0, 0)}
	if err := Play(recs, 0, false, nil, func(imu.Sample) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play([]Record{{Start: true}}, 1, true, nil, func(imu.Sample) error { return nil }); err == nil {
		t.Fatalf("expected error for a log without samples")
	}
	if err := Play(recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestPlay_CallbackErrorStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Play([]Record{rec(0, 0), rec(1, 0)}, 1, true, &fakeSleeper{}, func(imu.Sample) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestSource_LoopsAndCloses(t *testing.T) {
	fs := &fakeSleeper{}
	src, err := NewSource([]Record{rec(0, 1), rec(10*time.Millisecond, 2)}, 1, true, fs)
	if err != nil {
		t.Fatalf("NewSource() error: %v", err)
	}

	var last int64
	for i := 0; i < 6; i++ {
		s, err := src.Read()
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		if s.TimestampNs < last {
			t.Fatalf("timestamp went backwards: %d < %d", s.TimestampNs, last)
		}
		last = s.TimestampNs
	}
	if len(fs.slept) != 3 {
		t.Fatalf("slept = %v, want one wait per loop", fs.slept)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := src.Read(); err != io.EOF {
		t.Fatalf("Read() after Close = %v, want io.EOF", err)
	}
}

func TestSource_EOFWithoutLoop(t *testing.T) {
	src, err := NewSource([]Record{rec(0, 1)}, 1, false, &fakeSleeper{})
	if err != nil {
		t.Fatalf("NewSource() error: %v", err)
	}
	if _, err := src.Read(); err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if _, err := src.Read(); err != io.EOF {
		t.Fatalf("Read() = %v, want io.EOF", err)
	}
}

type sliceSource struct {
	samples []imu.Sample
	closed  bool
}

func (s *sliceSource) Read() (imu.Sample, error) {
	if len(s.samples) == 0 {
		return imu.Sample{}, io.EOF
	}
	out := s.samples[0]
	s.samples = s.samples[1:]
	return out, nil
}

func (s *sliceSource) Close() error { s.closed = true; return nil }

type overflowSource struct{ sliceSource }

func (s *overflowSource) MagOverflows() int { return 4 }

func TestRecorder_ForwardsMagOverflows(t *testing.T) {
	w, err := CreateWriter(filepath.Join(t.TempDir(), "rec.log"))
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	defer w.Close()

	if got := NewRecorder(&overflowSource{}, w).MagOverflows(); got != 4 {
		t.Fatalf("MagOverflows=%d want 4", got)
	}
	if got := NewRecorder(&sliceSource{}, w).MagOverflows(); got != 0 {
		t.Fatalf("MagOverflows=%d want 0 for a source without a count", got)
	}
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imu-record.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	in := []imu.Sample{
		{TimestampNs: 7, Accel: r3.Vector{X: 0.1, Y: -0.2, Z: 9.8}, Gyro: r3.Vector{Z: 0.3}, Mag: r3.Vector{X: 1.5, Y: 19.25, Z: -40.125}, MagValid: true},
		{TimestampNs: 7 + int64(16*time.Millisecond), Accel: r3.Vector{Z: 9.81}, Gyro: r3.Vector{Z: 0.3}},
		{TimestampNs: 7 + int64(32*time.Millisecond), Accel: r3.Vector{Z: 9.81}, Gyro: r3.Vector{Z: 1.0 / 3}, Mag: r3.Vector{Y: 20}, MagValid: true},
	}
	inner := &sliceSource{samples: append([]imu.Sample(nil), in...)}
	recorder := NewRecorder(inner, w)
	for range in {
		if _, err := recorder.Read(); err != nil {
			t.Fatalf("Recorder.Read() error: %v", err)
		}
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Recorder.Close() error: %v", err)
	}
	if !inner.closed {
		t.Fatalf("inner source not closed")
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	fs := &fakeSleeper{}
	var out []imu.Sample
	if err := Play(recs, 1.0, false, fs, func(s imu.Sample) error {
		out = append(out, s)
		return nil
	}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("got %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		want := in[i]
		want.TimestampNs = int64(time.Second) + (in[i].TimestampNs - in[0].TimestampNs)
		if !reflect.DeepEqual(out[i], want) {
			t.Fatalf("sample[%d]\n got: %+v\nwant: %+v", i, out[i], want)
		}
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{16 * time.Millisecond, 16 * time.Millisecond}) {
		t.Fatalf("slept = %v", fs.slept)
	}
}
