package replay

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"

	"gyrofusion/internal/imu"
)

// timestampBase offsets replayed timestamps so a record at offset 0 is not the zero sentinel.
const timestampBase = int64(time.Second)

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// cursor walks records in order and rebuilds monotonic sample timestamps across START markers and
// loop restarts.
type cursor struct {
	records []Record
	speed   float64
	loop    bool

	i        int
	origin   time.Duration
	lastAt   time.Duration
	haveLast bool

	segBase int64
	lastTs  int64
}

func newCursor(records []Record, speedMultiplier float64, loop bool) (*cursor, error) {
	if speedMultiplier <= 0 {
		return nil, fmt.Errorf("speedMultiplier must be > 0")
	}
	samples := 0
	for _, r := range records {
		if !r.Start {
			samples++
		}
	}
	if samples == 0 {
		return nil, errors.New("no records")
	}
	return &cursor{records: records, speed: speedMultiplier, loop: loop, segBase: timestampBase}, nil
}

// next returns the next sample and how long to wait before delivering it. It returns io.EOF once
// the records are exhausted and loop is false.
func (c *cursor) next() (imu.Sample, time.Duration, error) {
	for {
		if c.i >= len(c.records) {
			if !c.loop {
				return imu.Sample{}, 0, io.EOF
			}
			c.i = 0
			c.restart()
		}
		r := c.records[c.i]
		c.i++
		if r.Start {
			c.origin = r.At
			c.restart()
			continue
		}

		at := r.At - c.origin
		if at < 0 {
			at = 0
		}
		var wait time.Duration
		if c.haveLast {
			wait = at - c.lastAt
			if wait < 0 {
				wait = 0
			}
			wait = time.Duration(float64(wait) / c.speed)
		}
		c.lastAt = at
		c.haveLast = true

		s := r.Sample
		s.TimestampNs = c.segBase + at.Nanoseconds()
		c.lastTs = s.TimestampNs
		return s, wait, nil
	}
}

// restart begins a new segment whose timestamps continue after the last one delivered.
func (c *cursor) restart() {
	if c.lastTs > 0 {
		c.segBase = c.lastTs
	}
	c.lastAt = 0
	c.haveLast = false
}

// Play replays records with their relative timing.
//
// The callback is invoked for each sample record. START markers are honored by resetting the origin.
// Sample timestamps are rebuilt: one second plus the record offset, continuing monotonically across
// START markers and loops.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(imu.Sample) error) error {
	if cb == nil {
		return errors.New("callback is nil")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	c, err := newCursor(records, speedMultiplier, loop)
	if err != nil {
		return err
	}
	for {
		s, wait, err := c.next()
		if err == io.EOF {
			return nil
		}
		if wait > 0 {
			sleeper.Sleep(wait)
		}
		if err := cb(s); err != nil {
			return err
		}
	}
}

// Source serves recorded samples as an imu.Source. Read blocks for the recorded gap between
// samples and returns io.EOF when the log is exhausted.
type Source struct {
	mu      sync.Mutex
	c       *cursor
	sleeper Sleeper
	closed  bool
}

func NewSource(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper) (*Source, error) {
	c, err := newCursor(records, speedMultiplier, loop)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	return &Source{c: c, sleeper: sleeper}, nil
}

// OpenSource loads the log at path and serves it.
func OpenSource(path string, speedMultiplier float64, loop bool) (*Source, error) {
	recs, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewSource(recs, speedMultiplier, loop, nil)
}

func (s *Source) Read() (imu.Sample, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return imu.Sample{}, io.EOF
	}
	sample, wait, err := s.c.next()
	s.mu.Unlock()
	if err != nil {
		return imu.Sample{}, err
	}
	if wait > 0 {
		s.sleeper.Sleep(wait)
	}
	return sample, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Recorder tees every sample read from an underlying source into a Writer.
type Recorder struct {
	src imu.Source
	w   *Writer
}

func NewRecorder(src imu.Source, w *Writer) *Recorder {
	return &Recorder{src: src, w: w}
}

func (r *Recorder) Read() (imu.Sample, error) {
	s, err := r.src.Read()
	if err != nil {
		return s, err
	}
	if err := r.w.WriteSample(s); err != nil {
		return s, fmt.Errorf("replay: record: %w", err)
	}
	return s, nil
}

func (r *Recorder) Close() error {
	return multierr.Append(r.src.Close(), r.w.Close())
}

// MagOverflows forwards the wrapped source's count, or 0 when it keeps none.
func (r *Recorder) MagOverflows() int {
	if c, ok := r.src.(interface{ MagOverflows() int }); ok {
		return c.MagOverflows()
	}
	return 0
}
