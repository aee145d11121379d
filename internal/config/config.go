package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HARMONIZER_"

// Config is the runtime configuration of the harmonizer binary.
type Config struct {
	SampleRate   int
	Target       float64
	RecordPath   string
	Recorder     string
	RecordDevice string
	Trigger      string
	RecordFor    time.Duration
	Countdown    int
	Output       string
	Mixer        string
	AmixerCard   string
	Sensor       string
	SensorConfig string
	I2CBus       string
	IRQPin       string
	ButtonPin    string
	DistanceMode string
	Display      string
	Period       time.Duration
	RampInterval time.Duration
	Gain         float64
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		SampleRate:   48000,
		Target:       523.2,
		RecordPath:   "take.wav",
		Recorder:     "arecord",
		RecordDevice: "plughw:1,0",
		Trigger:      "gpio",
		RecordFor:    3 * time.Second,
		Countdown:    3,
		Output:       "ebiten",
		Mixer:        "both",
		AmixerCard:   "1",
		Sensor:       "vl53l1x",
		I2CBus:       "",
		IRQPin:       "GPIO17",
		ButtonPin:    "GPIO27",
		DistanceMode: "short",
		Display:      "ssd1306",
		Period:       5000 * time.Millisecond,
		RampInterval: 138 * time.Millisecond,
		Gain:         0.4,
	}
}

// Load builds a Config from defaults, then environment variables, then
// command-line flags. Flags win over the environment.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	env := envReader{getenv: getenv}
	env.str("SAMPLE_RATE", func(v string) error { return parseInt(v, &cfg.SampleRate) })
	env.str("TARGET", func(v string) error { return parseFloat(v, &cfg.Target) })
	env.str("RECORD_PATH", setString(&cfg.RecordPath))
	env.str("RECORDER", setString(&cfg.Recorder))
	env.str("RECORD_DEVICE", setString(&cfg.RecordDevice))
	env.str("TRIGGER", setString(&cfg.Trigger))
	env.str("RECORD_FOR", func(v string) error { return parseDuration(v, &cfg.RecordFor) })
	env.str("COUNTDOWN", func(v string) error { return parseInt(v, &cfg.Countdown) })
	env.str("OUTPUT", setString(&cfg.Output))
	env.str("MIXER", setString(&cfg.Mixer))
	env.str("AMIXER_CARD", setString(&cfg.AmixerCard))
	env.str("SENSOR", setString(&cfg.Sensor))
	env.str("SENSOR_CONFIG", setString(&cfg.SensorConfig))
	env.str("I2C_BUS", setString(&cfg.I2CBus))
	env.str("IRQ_PIN", setString(&cfg.IRQPin))
	env.str("BUTTON_PIN", setString(&cfg.ButtonPin))
	env.str("DISTANCE_MODE", setString(&cfg.DistanceMode))
	env.str("DISPLAY", setString(&cfg.Display))
	env.str("PERIOD", func(v string) error { return parseDuration(v, &cfg.Period) })
	env.str("RAMP_INTERVAL", func(v string) error { return parseDuration(v, &cfg.RampInterval) })
	env.str("GAIN", func(v string) error { return parseFloat(v, &cfg.Gain) })
	if env.err != nil {
		return Config{}, env.err
	}

	fs := flag.NewFlagSet("harmonizer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "recording and output sample rate")
	fs.Float64Var(&cfg.Target, "target", cfg.Target, "pitch the recording is corrected to, in Hz")
	fs.StringVar(&cfg.RecordPath, "file", cfg.RecordPath, "recording path")
	fs.StringVar(&cfg.Recorder, "recorder", cfg.Recorder, "recorder: arecord|portaudio|none")
	fs.StringVar(&cfg.RecordDevice, "record-device", cfg.RecordDevice, "ALSA capture device for arecord")
	fs.StringVar(&cfg.Trigger, "trigger", cfg.Trigger, "stop recording on: gpio|key|timer")
	fs.DurationVar(&cfg.RecordFor, "record-for", cfg.RecordFor, "recording length with -trigger timer")
	fs.IntVar(&cfg.Countdown, "countdown", cfg.Countdown, "countdown seconds before recording")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "audio backend: ebiten|oto")
	fs.StringVar(&cfg.Mixer, "mixer", cfg.Mixer, "EQ target: amixer|software|both")
	fs.StringVar(&cfg.AmixerCard, "card", cfg.AmixerCard, "ALSA card for amixer")
	fs.StringVar(&cfg.Sensor, "sensor", cfg.Sensor, "ranging sensor: vl53l1x|sim|none")
	fs.StringVar(&cfg.SensorConfig, "sensor-config", cfg.SensorConfig, "VL53L1X default configuration block")
	fs.StringVar(&cfg.I2CBus, "i2c", cfg.I2CBus, "I2C bus name (empty for the first bus)")
	fs.StringVar(&cfg.IRQPin, "irq-pin", cfg.IRQPin, "sensor interrupt pin")
	fs.StringVar(&cfg.ButtonPin, "button-pin", cfg.ButtonPin, "record stop button pin")
	fs.StringVar(&cfg.DistanceMode, "distance-mode", cfg.DistanceMode, "ranging mode: short|long")
	fs.StringVar(&cfg.Display, "display", cfg.Display, "status display: ssd1306|terminal|none")
	fs.DurationVar(&cfg.Period, "period", cfg.Period, "playback session length")
	fs.DurationVar(&cfg.RampInterval, "ramp-interval", cfg.RampInterval, "EQ ramp step interval")
	fs.Float64Var(&cfg.Gain, "gain", cfg.Gain, "mix gain applied to the sum of the voices")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks numeric ranges. Names of backends are checked by the
// packages that own them.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	case !(c.Target > 0):
		return fmt.Errorf("target must be positive, got %v", c.Target)
	case c.Period <= 0:
		return fmt.Errorf("period must be positive, got %v", c.Period)
	case c.RampInterval < 0:
		return fmt.Errorf("ramp interval must not be negative, got %v", c.RampInterval)
	case c.Gain < 0:
		return fmt.Errorf("gain must not be negative, got %v", c.Gain)
	case c.Countdown < 0:
		return fmt.Errorf("countdown must not be negative, got %d", c.Countdown)
	case strings.TrimSpace(c.RecordPath) == "":
		return fmt.Errorf("recording path is empty")
	}
	return nil
}

type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key string, set func(string) error) {
	if e.err != nil {
		return
	}
	v := strings.TrimSpace(e.getenv(EnvPrefix + key))
	if v == "" {
		return
	}
	if err := set(v); err != nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func parseDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
