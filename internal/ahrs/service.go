package ahrs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"

	"gyrofusion/internal/fusion"
	"gyrofusion/internal/imu"
)

const (
	defaultSampleInterval = 16 * time.Millisecond // ~60 Hz
	standardGravity       = 9.80665
)

type Config struct {
	Enable bool

	// SampleInterval paces source reads when neither Trigger nor SelfPaced is set.
	SampleInterval time.Duration
	// AbsoluteInterval limits how often the absolute orientation is recomputed from the cached
	// accel/mag pair. Zero recomputes on every sample.
	AbsoluteInterval time.Duration
	// SelfPaced reads back-to-back; the source's Read blocks until the next sample is due.
	SelfPaced bool
	// Trigger, when set, paces reads from a data-ready interrupt.
	Trigger <-chan struct{}

	Fusion fusion.Config

	// OnUpdate receives every new snapshot. It runs on the sensing goroutine and must not block.
	OnUpdate func(Snapshot)

	Logger *zap.SugaredLogger
}

type Snapshot struct {
	Valid                 bool
	Phase                 string
	SeededWithoutAbsolute bool
	AbsoluteValid         bool

	// Radians.
	Fused    fusion.Orientation
	Absolute fusion.Orientation

	AzimuthDeg float64
	PitchDeg   float64
	RollDeg    float64
	// HeadingDeg is the fused azimuth folded into [0, 360).
	HeadingDeg float64
	// YawRateDps is the azimuth rate of the last gyro sample, positive clockwise seen from above.
	YawRateDps float64
	// GLoad is |accel| in units of standard gravity; 1 at rest.
	GLoad float64

	Samples           uint64
	GyroIntegrations  uint64
	DegenerateSamples uint64
	ReadErrors        uint64
	// MagOverflows counts magnetometer readings the source dropped for saturation.
	MagOverflows uint64

	LastError string
	UpdatedAt time.Time
}

// Service drives one fusion.Engine from an imu.Source. The engine is only touched under engMu;
// readers get copies of the last published Snapshot.
type Service struct {
	cfg Config
	log *zap.SugaredLogger
	now func() time.Time

	engMu     sync.Mutex
	eng       *fusion.Engine
	accel     r3.Vector
	gyro      r3.Vector
	mag       r3.Vector
	haveMag   bool
	lastAbsNs int64
	counts    counters
	lastErr   string

	mu   sync.RWMutex
	snap Snapshot

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeErr  error
}

type counters struct {
	samples, integrations, degenerate, readErrors, magOverflows uint64
}

// magOverflowCounter is implemented by sources that drop saturated magnetometer readings.
type magOverflowCounter interface {
	MagOverflows() int
}

func New(cfg Config) *Service {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if cfg.AbsoluteInterval < 0 {
		cfg.AbsoluteInterval = 0
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		eng:    fusion.New(cfg.Fusion),
		stopCh: make(chan struct{}),
	}
	s.snap = s.buildSnapshot()
	return s
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Start launches the sensing loop. The service takes ownership of src and closes it on exit.
func (s *Service) Start(ctx context.Context, src imu.Source) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if src == nil {
		return fmt.Errorf("ahrs: source is nil")
	}
	started := false
	s.startOnce.Do(func() {
		started = true
		s.doneCh = make(chan struct{})
		go s.run(ctx, src)
	})
	if !started {
		return fmt.Errorf("ahrs: already started")
	}
	s.log.Infow("ahrs started",
		"sample_interval", s.cfg.SampleInterval,
		"self_paced", s.cfg.SelfPaced,
		"trigger", s.cfg.Trigger != nil,
		"filter_coefficient", s.eng.FilterCoefficient(),
	)
	return nil
}

// Close stops the loop and waits for it to release the source.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.doneCh != nil {
		<-s.doneCh
	}
	return s.closeErr
}

// Done is closed once the sensing loop has exited. It is nil before Start.
func (s *Service) Done() <-chan struct{} { return s.doneCh }

func (s *Service) run(ctx context.Context, src imu.Source) {
	defer close(s.doneCh)
	defer func() {
		if err := src.Close(); err != nil {
			s.closeErr = fmt.Errorf("ahrs: close source: %w", err)
		}
	}()

	overflows, _ := src.(magOverflowCounter)

	var tickC <-chan time.Time
	trigC := s.cfg.Trigger
	if trigC == nil && !s.cfg.SelfPaced {
		t := time.NewTicker(s.cfg.SampleInterval)
		defer t.Stop()
		tickC = t.C
	}

	for {
		if trigC != nil || tickC != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-tickC:
			case <-trigC:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}
		}

		sample, err := src.Read()
		if errors.Is(err, io.EOF) {
			s.log.Infow("ahrs source exhausted")
			return
		}
		if err != nil {
			s.readFailed(err)
			if s.cfg.SelfPaced {
				// Avoid spinning on a persistently failing source.
				select {
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				case <-time.After(s.cfg.SampleInterval):
				}
			}
			continue
		}
		if overflows != nil {
			s.noteMagOverflows(overflows.MagOverflows())
		}
		s.Process(sample)
	}
}

// noteMagOverflows records the source's running overflow count; the next Process publishes it.
func (s *Service) noteMagOverflows(n int) {
	if n < 0 {
		return
	}
	s.engMu.Lock()
	prev := s.counts.magOverflows
	s.counts.magOverflows = uint64(n)
	s.engMu.Unlock()
	if prev == 0 && n > 0 {
		s.log.Warnw("magnetometer overflow, readings dropped", "count", n)
	}
}

// Process feeds one sample through the engine: refresh the accel/mag cache, recompute the absolute
// orientation when due, then integrate the gyro and fuse. It returns the published snapshot.
func (s *Service) Process(sample imu.Sample) Snapshot {
	s.engMu.Lock()
	s.counts.samples++
	s.accel = sample.Accel
	s.gyro = sample.Gyro
	if sample.MagValid {
		s.mag = sample.Mag
		s.haveMag = true
	}

	if s.haveMag && s.absoluteDue(sample.TimestampNs) {
		s.lastAbsNs = sample.TimestampNs
		if err := s.eng.OnAccelMagSample(s.accel, s.mag); err != nil {
			s.counts.degenerate++
			s.lastErr = err.Error()
			s.log.Debugw("absolute orientation skipped", "error", err, "accel", s.accel, "mag", s.mag)
		} else {
			s.lastErr = ""
		}
	}

	if s.eng.OnGyroSample(sample.Gyro, sample.TimestampNs) {
		s.counts.integrations++
	}
	snap := s.publishLocked()
	s.engMu.Unlock()

	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(snap)
	}
	return snap
}

func (s *Service) absoluteDue(ts int64) bool {
	if s.cfg.AbsoluteInterval <= 0 || s.lastAbsNs == 0 || ts < s.lastAbsNs {
		return true
	}
	return ts-s.lastAbsNs >= s.cfg.AbsoluteInterval.Nanoseconds()
}

// Reset restarts sensing from the uninitialized phase. Counters are kept.
func (s *Service) Reset() Snapshot {
	s.engMu.Lock()
	s.eng.Reset()
	s.accel = r3.Vector{}
	s.gyro = r3.Vector{}
	s.mag = r3.Vector{}
	s.haveMag = false
	s.lastAbsNs = 0
	s.lastErr = ""
	snap := s.publishLocked()
	s.engMu.Unlock()

	s.log.Infow("ahrs reset")
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(snap)
	}
	return snap
}

func (s *Service) readFailed(err error) {
	s.log.Warnw("imu read failed", "error", err)
	s.engMu.Lock()
	s.counts.readErrors++
	s.lastErr = err.Error()
	s.publishLocked()
	s.engMu.Unlock()
}

// publishLocked must be called with engMu held.
func (s *Service) publishLocked() Snapshot {
	snap := s.buildSnapshot()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap
}

func (s *Service) buildSnapshot() Snapshot {
	st := s.eng.State()
	deg := st.FusedOrientation.Degrees()
	var yawRate float64
	if st.Initialized {
		// Body rate rotated into E,N,U; azimuth grows with rotation about -U.
		yawRate = -fusion.MatrixFromOrientation(st.FusedOrientation).Apply(s.gyro).Z * 180 / math.Pi
	}
	return Snapshot{
		Valid:                 st.Initialized,
		Phase:                 s.eng.Phase().String(),
		SeededWithoutAbsolute: st.SeededWithoutAbsolute,
		AbsoluteValid:         st.HasAbsoluteOrientation,
		Fused:                 st.FusedOrientation,
		Absolute:              st.AbsoluteOrientation,
		AzimuthDeg:            deg.Azimuth,
		PitchDeg:              deg.Pitch,
		RollDeg:               deg.Roll,
		HeadingDeg:            headingDeg(deg.Azimuth),
		YawRateDps:            yawRate,
		GLoad:                 s.accel.Norm() / standardGravity,
		Samples:               s.counts.samples,
		GyroIntegrations:      s.counts.integrations,
		DegenerateSamples:     s.counts.degenerate,
		ReadErrors:            s.counts.readErrors,
		MagOverflows:          s.counts.magOverflows,
		LastError:             s.lastErr,
		UpdatedAt:             s.now().UTC(),
	}
}

func headingDeg(azimuthDeg float64) float64 {
	h := math.Mod(azimuthDeg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}
