package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log   LogConfig   `yaml:"log"`
	AHRS  AHRSConfig  `yaml:"ahrs"`
	GDL90 GDL90Config `yaml:"gdl90"`
	Web   WebConfig   `yaml:"web"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

const (
	SourceI2C    = "i2c"
	SourceSim    = "sim"
	SourceReplay = "replay"
)

type AHRSConfig struct {
	Enable bool   `yaml:"enable"`
	Source string `yaml:"source"`

	SampleInterval    time.Duration `yaml:"sample_interval"`
	AbsoluteInterval  time.Duration `yaml:"absolute_interval"`
	FilterCoefficient float64       `yaml:"filter_coefficient"`
	WaitForAbsolute   bool          `yaml:"wait_for_absolute"`

	I2C    I2CConfig    `yaml:"i2c"`
	DRDY   DRDYConfig   `yaml:"drdy"`
	Sim    SimConfig    `yaml:"sim"`
	Record RecordConfig `yaml:"record"`
	Replay ReplayConfig `yaml:"replay"`
}

const defaultI2CBus = 1

type I2CConfig struct {
	// Bus is the /dev/i2c-N number. Nil selects bus 1; 0 is a valid bus.
	Bus     *int   `yaml:"bus"`
	IMUAddr uint16 `yaml:"imu_addr"`
	MagAddr uint16 `yaml:"mag_addr"`
	GyroDps int    `yaml:"gyro_dps"`
	AccelG  int    `yaml:"accel_g"`
	RateHz  int    `yaml:"rate_hz"`
}

// BusNumber returns the configured bus, or the default when unset.
func (c I2CConfig) BusNumber() int {
	if c.Bus == nil {
		return defaultI2CBus
	}
	return *c.Bus
}

// DRDYConfig selects the GPIO line wired to the IMU's INT pin.
type DRDYConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	Offset int    `yaml:"offset"`
}

type SimConfig struct {
	RateHz          int       `yaml:"rate_hz"`
	AzimuthRateDps  float64   `yaml:"azimuth_rate_dps"`
	PitchDeg        float64   `yaml:"pitch_deg"`
	RollDeg         float64   `yaml:"roll_deg"`
	GyroBiasDps     []float64 `yaml:"gyro_bias_dps"`
	NoiseStd        float64   `yaml:"noise_std"`
	GyroNoiseStdDps float64   `yaml:"gyro_noise_std_dps"`
	MagEvery        int       `yaml:"mag_every"`
	Seed            uint64    `yaml:"seed"`
	// Script, when set, replaces the constant turn with a keyframed attitude script.
	Script string `yaml:"script"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type GDL90Config struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
	// StratuxLE additionally sends the Stratux 0x4C AHRS report.
	StratuxLE  bool   `yaml:"stratux_le"`
	DeviceName string `yaml:"device_name"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML strictly and applies defaults and validation.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, describeDecodeError(err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var yamlLinePrefix = regexp.MustCompile(`^line \d+: `)

func describeDecodeError(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return err
	}
	var unknown, other []string
	for _, e := range te.Errors {
		e = yamlLinePrefix.ReplaceAllString(e, "")
		if strings.HasPrefix(e, "field ") && strings.Contains(e, " not found in type ") {
			unknown = append(unknown, e)
		} else {
			other = append(other, e)
		}
	}
	if len(other) > 0 {
		return err
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(unknown, "; "))
}

// DefaultAndValidate fills zero values with defaults and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
	}

	if err := defaultAndValidateAHRS(&cfg.AHRS); err != nil {
		return err
	}

	if cfg.GDL90.Interval <= 0 {
		cfg.GDL90.Interval = 200 * time.Millisecond
	}
	if cfg.GDL90.DeviceName == "" {
		cfg.GDL90.DeviceName = "gyrofusion"
	}
	if cfg.GDL90.Enable && strings.TrimSpace(cfg.GDL90.Dest) == "" {
		return fmt.Errorf("gdl90.dest is required when gdl90.enable is true")
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}

func defaultAndValidateAHRS(a *AHRSConfig) error {
	if a.Source == "" {
		a.Source = SourceSim
	}
	switch a.Source {
	case SourceI2C, SourceSim, SourceReplay:
	default:
		return fmt.Errorf("ahrs.source must be one of 'i2c', 'sim', 'replay'")
	}

	if a.SampleInterval <= 0 {
		a.SampleInterval = 16 * time.Millisecond
	}
	if a.AbsoluteInterval < 0 {
		return fmt.Errorf("ahrs.absolute_interval must be >= 0")
	}
	if a.FilterCoefficient == 0 {
		a.FilterCoefficient = 0.98
	}
	if a.FilterCoefficient < 0 || a.FilterCoefficient > 1 {
		return fmt.Errorf("ahrs.filter_coefficient must be in (0,1]")
	}

	if a.I2C.Bus == nil {
		bus := defaultI2CBus
		a.I2C.Bus = &bus
	}
	if *a.I2C.Bus < 0 {
		return fmt.Errorf("ahrs.i2c.bus must be >= 0")
	}
	if a.I2C.IMUAddr == 0 {
		a.I2C.IMUAddr = 0x68
	}
	if a.I2C.MagAddr == 0 {
		a.I2C.MagAddr = 0x0C
	}
	if a.I2C.GyroDps == 0 {
		a.I2C.GyroDps = 500
	}
	switch a.I2C.GyroDps {
	case 250, 500, 1000, 2000:
	default:
		return fmt.Errorf("ahrs.i2c.gyro_dps must be one of 250, 500, 1000, 2000")
	}
	if a.I2C.AccelG == 0 {
		a.I2C.AccelG = 4
	}
	switch a.I2C.AccelG {
	case 2, 4, 8, 16:
	default:
		return fmt.Errorf("ahrs.i2c.accel_g must be one of 2, 4, 8, 16")
	}
	if a.I2C.RateHz < 0 {
		return fmt.Errorf("ahrs.i2c.rate_hz must be > 0")
	}
	if a.I2C.RateHz == 0 {
		a.I2C.RateHz = 100
	}

	if a.DRDY.Enable {
		if a.Source != SourceI2C {
			return fmt.Errorf("ahrs.drdy.enable requires ahrs.source 'i2c'")
		}
		if a.DRDY.Chip == "" {
			a.DRDY.Chip = "gpiochip0"
		}
		if a.DRDY.Offset < 0 {
			return fmt.Errorf("ahrs.drdy.offset must be >= 0")
		}
	}

	if a.Sim.RateHz < 0 {
		return fmt.Errorf("ahrs.sim.rate_hz must be > 0")
	}
	if a.Sim.RateHz == 0 {
		a.Sim.RateHz = 60
	}
	if a.Sim.PitchDeg < -90 || a.Sim.PitchDeg > 90 {
		return fmt.Errorf("ahrs.sim.pitch_deg must be in [-90,90]")
	}
	if n := len(a.Sim.GyroBiasDps); n != 0 && n != 3 {
		return fmt.Errorf("ahrs.sim.gyro_bias_dps must have 3 elements")
	}
	if a.Sim.NoiseStd < 0 || a.Sim.GyroNoiseStdDps < 0 {
		return fmt.Errorf("ahrs.sim noise std must be >= 0")
	}
	if a.Sim.MagEvery < 0 {
		return fmt.Errorf("ahrs.sim.mag_every must be >= 0")
	}

	if a.Record.Enable {
		if a.Record.Path == "" {
			return fmt.Errorf("ahrs.record.path is required when ahrs.record.enable is true")
		}
		if a.Source == SourceReplay {
			return fmt.Errorf("ahrs.record cannot be used with ahrs.source 'replay'")
		}
	}

	if a.Source == SourceReplay {
		if a.Replay.Path == "" {
			return fmt.Errorf("ahrs.replay.path is required when ahrs.source is 'replay'")
		}
		if a.Replay.Speed == 0 {
			a.Replay.Speed = 1
		}
		if a.Replay.Speed < 0 {
			return fmt.Errorf("ahrs.replay.speed must be > 0")
		}
	}
	return nil
}
