package sim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"gyrofusion/internal/fusion"
)

// AttitudeScript is a keyframed attitude trajectory for bench runs and regression tests.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s"). If Duration is zero it is
// derived from the latest keyframe.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 20s
//	loop: true
//	keyframes:
//	  - t: 0s
//	    azimuth_deg: 0
//	    pitch_deg: 0
//	    roll_deg: 0
//	  - t: 10s
//	    azimuth_deg: 90
//	    pitch_deg: 5
//	    roll_deg: -20
//
// Azimuth and roll interpolate along the shortest arc; pitch interpolates linearly.
type AttitudeScript struct {
	Version   int                `yaml:"version"`
	Duration  time.Duration      `yaml:"duration"`
	Loop      bool               `yaml:"loop"`
	Keyframes []AttitudeKeyframe `yaml:"keyframes"`
}

type AttitudeKeyframe struct {
	T          time.Duration `yaml:"t"`
	AzimuthDeg float64       `yaml:"azimuth_deg"`
	PitchDeg   float64       `yaml:"pitch_deg"`
	RollDeg    float64       `yaml:"roll_deg"`
}

// Script is the validated runtime form of an AttitudeScript.
type Script struct {
	script   AttitudeScript
	duration time.Duration
}

// LoadAttitudeScript reads and unmarshals a YAML attitude script from path.
func LoadAttitudeScript(path string) (AttitudeScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return AttitudeScript{}, err
	}
	return ParseAttitudeScriptYAML(b)
}

func ParseAttitudeScriptYAML(b []byte) (AttitudeScript, error) {
	var s AttitudeScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return AttitudeScript{}, err
	}
	return s, nil
}

// NewScript validates script.
func NewScript(script AttitudeScript) (*Script, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported script version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kf.PitchDeg < -90 || kf.PitchDeg > 90 {
			return nil, fmt.Errorf("keyframes[%d].pitch_deg must be within [-90, 90]", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 && script.Loop {
		return nil, fmt.Errorf("duration is required to loop")
	}
	return &Script{script: script, duration: dur}, nil
}

func (s *Script) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// OrientationAt wraps t around Duration when the script loops and clamps it otherwise.
func (s *Script) OrientationAt(t time.Duration) fusion.Orientation {
	if s == nil {
		return fusion.Orientation{}
	}
	if t < 0 {
		t = 0
	}
	if s.duration > 0 {
		if s.script.Loop {
			t = t % s.duration
		} else if t > s.duration {
			t = s.duration
		}
	}

	k0, k1, alpha := selectSegment(s.script.Keyframes, t)
	return fusion.Orientation{
		Azimuth: wrapPi(lerpAngleDeg(k0.AzimuthDeg, k1.AzimuthDeg, alpha) * math.Pi / 180),
		Pitch:   lerp(k0.PitchDeg, k1.PitchDeg, alpha) * math.Pi / 180,
		Roll:    wrapPi(lerpAngleDeg(k0.RollDeg, k1.RollDeg, alpha) * math.Pi / 180),
	}
}

func selectSegment(kfs []AttitudeKeyframe, t time.Duration) (AttitudeKeyframe, AttitudeKeyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// lerpAngleDeg interpolates along the shortest arc and returns a value in [0, 360).
func lerpAngleDeg(a0, a1, t float64) float64 {
	norm := func(x float64) float64 {
		x = math.Mod(x, 360)
		if x < 0 {
			x += 360
		}
		return x
	}
	a0 = norm(a0)
	a1 = norm(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return norm(a0 + delta*t)
}
