package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"

	"gyrofusion/internal/imu"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<ax>,<ay>,<az>,<gx>,<gy>,<gz>[,<mx>,<my>,<mz>]
//   where t_ns is nanoseconds since START, accel is m/s², gyro rad/s and mag µT. Lines without the
//   three mag fields carry no magnetometer reading.

type Record struct {
	At time.Duration
	// Start marks a START line; Sample is unused.
	Start  bool
	Sample imu.Sample
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 && len(fields) != 10 {
		return Record{}, fmt.Errorf("want 7 or 10 fields, got %d: %q", len(fields), line)
	}

	tsNs, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp %q: %w", fields[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid timestamp (negative): %d", tsNs)
	}

	vals := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid value %q: %w", f, err)
		}
		vals[i] = v
	}

	rec := Record{
		At: time.Duration(tsNs),
		Sample: imu.Sample{
			Accel: r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]},
			Gyro:  r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]},
		},
	}
	if len(vals) == 9 {
		rec.Sample.Mag = r3.Vector{X: vals[6], Y: vals[7], Z: vals[8]}
		rec.Sample.MagValid = true
	}
	return rec, nil
}

// ReadFile loads every record from the log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer records samples. Record times are taken from the samples' own timestamps, relative to the
// first sample written.
type Writer struct {
	f        *os.File
	w        *bufio.Writer
	originNs int64
	started  bool
	closed   bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw}, nil
}

func (ww *Writer) WriteSample(s imu.Sample) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if !ww.started {
		ww.originNs = s.TimestampNs
		ww.started = true
	}
	d := s.TimestampNs - ww.originNs
	if d < 0 {
		d = 0
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(d, 10))
	vals := []float64{s.Accel.X, s.Accel.Y, s.Accel.Z, s.Gyro.X, s.Gyro.Y, s.Gyro.Z}
	if s.MagValid {
		vals = append(vals, s.Mag.X, s.Mag.Y, s.Mag.Z)
	}
	for _, v := range vals {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte('\n')
	_, err := ww.w.WriteString(b.String())
	return err
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
