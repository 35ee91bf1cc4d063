package main

import (
	"time"

	"gyrofusion/internal/ahrs"
	"gyrofusion/internal/config"
	"gyrofusion/internal/gdl90"
)

const heartbeatInterval = time.Second

// frameBuilder produces the GDL90 frames for one output tick: AHRS on every tick, heartbeats and
// the ForeFlight ID about once per second.
type frameBuilder struct {
	cfg      config.GDL90Config
	snapshot func() ahrs.Snapshot

	lastHeartbeat time.Time
}

func newFrameBuilder(cfg config.GDL90Config, snapshot func() ahrs.Snapshot) *frameBuilder {
	return &frameBuilder{cfg: cfg, snapshot: snapshot}
}

func (f *frameBuilder) frames(now time.Time) [][]byte {
	snap := f.snapshot()
	att := attitudeFromSnapshot(snap)

	var out [][]byte
	if f.lastHeartbeat.IsZero() || now.Sub(f.lastHeartbeat) >= heartbeatInterval {
		f.lastHeartbeat = now
		// No GPS here, so UTC is never reported as valid.
		out = append(out,
			gdl90.HeartbeatFrameAt(now, false, false),
			gdl90.StratuxHeartbeatFrame(false, att.Valid),
			gdl90.ForeFlightIDFrame(f.cfg.DeviceName, f.cfg.DeviceName),
		)
	}
	out = append(out, gdl90.ForeFlightAHRSFrame(att))
	if f.cfg.StratuxLE {
		out = append(out, gdl90.AHRSGDL90LEFrame(att))
	}
	return out
}

// attitudeFromSnapshot converts the engine's angles to the receiver's convention. The engine's pitch
// is negative when the nose rises; GDL90 AHRS reports nose-up positive. Roll already agrees.
func attitudeFromSnapshot(s ahrs.Snapshot) gdl90.Attitude {
	return gdl90.Attitude{
		Valid:        s.Valid,
		RollDeg:      s.RollDeg,
		PitchDeg:     -s.PitchDeg,
		HeadingDeg:   s.HeadingDeg,
		HeadingValid: s.Valid && s.AbsoluteValid,
		YawRateDps:   s.YawRateDps,
		GLoad:        s.GLoad,
	}
}
