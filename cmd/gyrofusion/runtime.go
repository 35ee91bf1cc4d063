package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gyrofusion/internal/ahrs"
	"gyrofusion/internal/config"
	"gyrofusion/internal/fusion"
	"gyrofusion/internal/gpio"
	"gyrofusion/internal/imu"
	"gyrofusion/internal/replay"
	"gyrofusion/internal/sim"
	"gyrofusion/internal/udp"
	"gyrofusion/internal/web"
)

// runtime owns every long-lived component of the daemon.
type runtime struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	logs    *web.LogBuffer
	started time.Time

	ahrs   *ahrs.Service
	stream *web.OrientationBroadcaster
	link   *udp.Broadcaster
	drdy   *gpio.DataReady

	// source is held until Run hands it to the ahrs service.
	source imu.Source
}

// sourcePlan is an opened sample source plus how the service should pace it.
type sourcePlan struct {
	src            imu.Source
	sampleInterval time.Duration
	selfPaced      bool
}

func newRuntime(cfg config.Config, logs *web.LogBuffer, log *zap.SugaredLogger) (*runtime, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &runtime{
		cfg:     cfg,
		log:     log,
		logs:    logs,
		started: time.Now(),
		stream:  web.NewOrientationBroadcaster(0.35),
	}

	ahrsCfg := ahrs.Config{
		Enable:           cfg.AHRS.Enable,
		SampleInterval:   cfg.AHRS.SampleInterval,
		AbsoluteInterval: cfg.AHRS.AbsoluteInterval,
		Fusion: fusion.Config{
			FilterCoefficient: cfg.AHRS.FilterCoefficient,
			WaitForAbsolute:   cfg.AHRS.WaitForAbsolute,
		},
		OnUpdate: func(s ahrs.Snapshot) { r.stream.Publish(web.NewOrientationView(s)) },
		Logger:   log.Named("ahrs"),
	}

	if cfg.AHRS.Enable {
		plan, err := openSource(cfg.AHRS)
		if err != nil {
			return nil, fmt.Errorf("ahrs source init failed: %w", err)
		}
		if plan.sampleInterval > 0 {
			ahrsCfg.SampleInterval = plan.sampleInterval
		}
		ahrsCfg.SelfPaced = plan.selfPaced
		r.source = plan.src

		if cfg.AHRS.Record.Enable {
			w, err := replay.CreateWriter(cfg.AHRS.Record.Path)
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("record init failed: %w", err), r.source.Close())
			}
			r.source = replay.NewRecorder(r.source, w)
			log.Infow("recording samples", "path", cfg.AHRS.Record.Path)
		}

		if cfg.AHRS.DRDY.Enable {
			d, err := gpio.OpenDataReady(cfg.AHRS.DRDY.Chip, cfg.AHRS.DRDY.Offset)
			if err != nil {
				// Polling on the ticker still works without the interrupt.
				log.Warnw("drdy init failed, polling instead", "chip", cfg.AHRS.DRDY.Chip, "offset", cfg.AHRS.DRDY.Offset, "error", err)
			} else {
				r.drdy = d
				ahrsCfg.Trigger = d.C()
			}
		}
	}
	r.ahrs = ahrs.New(ahrsCfg)

	if cfg.GDL90.Enable {
		b, err := udp.NewBroadcaster(cfg.GDL90.Dest, log.Named("gdl90"))
		if err != nil {
			return nil, multierr.Combine(fmt.Errorf("udp broadcaster init failed: %w", err), r.closeSource(), r.drdy.Close())
		}
		r.link = b
	}
	return r, nil
}

func openSource(c config.AHRSConfig) (sourcePlan, error) {
	switch c.Source {
	case config.SourceI2C:
		src, err := imu.OpenI2C(imu.I2CConfig{
			Bus:       c.I2C.BusNumber(),
			IMUAddr:   c.I2C.IMUAddr,
			MagAddr:   c.I2C.MagAddr,
			RateHz:    c.I2C.RateHz,
			GyroDps:   c.I2C.GyroDps,
			AccelG:    c.I2C.AccelG,
			DataReady: c.DRDY.Enable,
		})
		if err != nil {
			return sourcePlan{}, err
		}
		return sourcePlan{src: src}, nil

	case config.SourceSim:
		motion, err := simMotion(c.Sim)
		if err != nil {
			return sourcePlan{}, err
		}
		var bias r3.Vector
		if len(c.Sim.GyroBiasDps) == 3 {
			bias = r3.Vector{X: c.Sim.GyroBiasDps[0], Y: c.Sim.GyroBiasDps[1], Z: c.Sim.GyroBiasDps[2]}.Mul(math.Pi / 180)
		}
		src, err := sim.NewSource(sim.IMU{
			Motion:        motion,
			RateHz:        c.Sim.RateHz,
			MagEvery:      c.Sim.MagEvery,
			GyroBias:      bias,
			AccelNoiseStd: c.Sim.NoiseStd,
			GyroNoiseStd:  c.Sim.GyroNoiseStdDps * math.Pi / 180,
			MagNoiseStd:   c.Sim.NoiseStd,
			Seed:          c.Sim.Seed,
		})
		if err != nil {
			return sourcePlan{}, err
		}
		// Synthetic timestamps advance one interval per read; pace reads to match.
		return sourcePlan{src: src, sampleInterval: src.Interval()}, nil

	case config.SourceReplay:
		src, err := replay.OpenSource(c.Replay.Path, c.Replay.Speed, c.Replay.Loop)
		if err != nil {
			return sourcePlan{}, err
		}
		return sourcePlan{src: src, selfPaced: true}, nil
	}
	return sourcePlan{}, fmt.Errorf("unknown source %q", c.Source)
}

func simMotion(c config.SimConfig) (sim.Motion, error) {
	if c.Script == "" {
		return sim.Turn{AzimuthRateDps: c.AzimuthRateDps, PitchDeg: c.PitchDeg, RollDeg: c.RollDeg}, nil
	}
	script, err := sim.LoadAttitudeScript(c.Script)
	if err != nil {
		return nil, err
	}
	sc, err := sim.NewScript(script)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// Run starts sensing and the outputs, then blocks until ctx is done, an output fails, or the
// sensing loop ends (a finished replay).
func (r *runtime) Run(ctx context.Context) error {
	if r.source != nil {
		if err := r.ahrs.Start(ctx, r.source); err != nil {
			return err
		}
		r.source = nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if r.link != nil {
		fb := newFrameBuilder(r.cfg.GDL90, r.ahrs.Snapshot)
		r.log.Infow("gdl90 output", "dest", r.cfg.GDL90.Dest, "interval", r.cfg.GDL90.Interval, "stratux_le", r.cfg.GDL90.StratuxLE)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.link.Run(ctx, r.cfg.GDL90.Interval, fb.frames); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("gdl90: %w", err)
			}
		}()
	}

	if r.cfg.Web.Enable {
		h := web.Handler(r.webDeps())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.Serve(ctx, r.cfg.Web.Listen, h, r.log.Named("web")); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	// Done is nil when sensing never started, which leaves that case blocked.
	var err error
	select {
	case <-ctx.Done():
	case <-r.ahrs.Done():
		snap := r.ahrs.Snapshot()
		r.log.Infow("ahrs sensing stopped, shutting down", "samples", snap.Samples, "last_error", snap.LastError)
		cancel()
	case err = <-errCh:
		cancel()
	}
	wg.Wait()
	return err
}

func (r *runtime) webDeps() web.Deps {
	d := web.Deps{
		AHRS:    r.ahrs,
		Stream:  r.stream,
		Logs:    r.logs,
		Source:  r.cfg.AHRS.Source,
		Started: r.started,
	}
	if !r.cfg.AHRS.Enable {
		d.Source = "disabled"
	}
	if r.link != nil {
		interval := r.cfg.GDL90.Interval.String()
		d.Link = func() web.LinkStatus {
			st := r.link.Stats()
			return web.LinkStatus{
				Dest:       st.Dest,
				Interval:   interval,
				FramesSent: st.FramesSent,
				SendErrors: st.SendErrors,
				LastError:  st.LastError,
			}
		}
	}
	return d
}

func (r *runtime) closeSource() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}

func (r *runtime) Close() error {
	err := multierr.Combine(r.ahrs.Close(), r.closeSource(), r.drdy.Close())
	if r.link != nil {
		err = multierr.Append(err, r.link.Close())
	}
	return err
}
