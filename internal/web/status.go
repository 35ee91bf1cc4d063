package web

import (
	"runtime"
	"runtime/debug"
	"time"

	"gyrofusion/internal/ahrs"
)

// OrientationView is the JSON form of an ahrs.Snapshot. Angles are degrees.
type OrientationView struct {
	Valid                 bool    `json:"valid"`
	Phase                 string  `json:"phase"`
	SeededWithoutAbsolute bool    `json:"seeded_without_absolute"`
	AbsoluteValid         bool    `json:"absolute_valid"`
	AzimuthDeg            float64 `json:"azimuth_deg"`
	PitchDeg              float64 `json:"pitch_deg"`
	RollDeg               float64 `json:"roll_deg"`
	HeadingDeg            float64 `json:"heading_deg"`
	YawRateDps            float64 `json:"yaw_rate_dps"`
	GLoad                 float64 `json:"g_load"`

	Absolute *AnglesDeg `json:"absolute,omitempty"`

	Samples           uint64 `json:"samples"`
	GyroIntegrations  uint64 `json:"gyro_integrations"`
	DegenerateSamples uint64 `json:"degenerate_samples"`
	ReadErrors        uint64 `json:"read_errors"`
	MagOverflows      uint64 `json:"mag_overflows"`
	LastError         string `json:"last_error,omitempty"`
	UpdatedUTC        string `json:"updated_utc,omitempty"`
}

type AnglesDeg struct {
	AzimuthDeg float64 `json:"azimuth_deg"`
	PitchDeg   float64 `json:"pitch_deg"`
	RollDeg    float64 `json:"roll_deg"`
}

func NewOrientationView(s ahrs.Snapshot) OrientationView {
	v := OrientationView{
		Valid:                 s.Valid,
		Phase:                 s.Phase,
		SeededWithoutAbsolute: s.SeededWithoutAbsolute,
		AbsoluteValid:         s.AbsoluteValid,
		AzimuthDeg:            s.AzimuthDeg,
		PitchDeg:              s.PitchDeg,
		RollDeg:               s.RollDeg,
		HeadingDeg:            s.HeadingDeg,
		YawRateDps:            s.YawRateDps,
		GLoad:                 s.GLoad,
		Samples:               s.Samples,
		GyroIntegrations:      s.GyroIntegrations,
		DegenerateSamples:     s.DegenerateSamples,
		ReadErrors:            s.ReadErrors,
		MagOverflows:          s.MagOverflows,
		LastError:             s.LastError,
	}
	if s.AbsoluteValid {
		d := s.Absolute.Degrees()
		v.Absolute = &AnglesDeg{AzimuthDeg: d.Azimuth, PitchDeg: d.Pitch, RollDeg: d.Roll}
	}
	if !s.UpdatedAt.IsZero() {
		v.UpdatedUTC = s.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// LinkStatus describes the GDL90 output, when enabled.
type LinkStatus struct {
	Dest       string `json:"dest"`
	Interval   string `json:"interval"`
	FramesSent uint64 `json:"frames_sent"`
	SendErrors uint64 `json:"send_errors"`
	LastError  string `json:"last_error,omitempty"`
}

type StatusSnapshot struct {
	Service     string          `json:"service"`
	NowUTC      string          `json:"now_utc"`
	UptimeSec   int64           `json:"uptime_sec"`
	GoVersion   string          `json:"go_version"`
	Version     string          `json:"version,omitempty"`
	Commit      string          `json:"commit,omitempty"`
	Source      string          `json:"source"`
	GDL90       *LinkStatus     `json:"gdl90,omitempty"`
	Orientation OrientationView `json:"orientation"`
}

func buildStatus(now time.Time, d Deps) StatusSnapshot {
	st := StatusSnapshot{
		Service:   "gyrofusion",
		NowUTC:    now.UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
		Source:    d.Source,
	}
	if !d.Started.IsZero() {
		st.UptimeSec = int64(now.Sub(d.Started).Seconds())
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		st.Version = bi.Main.Version
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				st.Commit = s.Value
			}
		}
	}
	if d.Link != nil {
		l := d.Link()
		st.GDL90 = &l
	}
	if d.AHRS != nil {
		st.Orientation = NewOrientationView(d.AHRS.Snapshot())
	}
	return st
}
