package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cbegin/harmonizer-go"
	intaudio "github.com/cbegin/harmonizer-go/internal/audio"
	"github.com/cbegin/harmonizer-go/internal/config"
	"github.com/cbegin/harmonizer-go/internal/display"
	"github.com/cbegin/harmonizer-go/internal/eq"
	"github.com/cbegin/harmonizer-go/internal/filter"
	"github.com/cbegin/harmonizer-go/internal/gpio"
	"github.com/cbegin/harmonizer-go/internal/ranging"
	"github.com/cbegin/harmonizer-go/internal/record"
	"github.com/cbegin/harmonizer-go/internal/scheduler"
	"github.com/cbegin/harmonizer-go/internal/wav"
)

func main() {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if needsHost(cfg) {
		if err := gpio.Init(); err != nil {
			logger.Fatalw("failed to initialize board drivers", "error", err)
		}
	}

	disp, closeDisplay, err := openDisplay(cfg)
	if err != nil {
		logger.Fatalw("failed to open display", "display", cfg.Display, "error", err)
	}
	defer closeDisplay()
	show := func(text string) {
		if err := disp.Show(text); err != nil {
			logger.Debugw("display write failed", "text", text, "error", err)
		}
	}

	if err := captureTake(ctx, cfg, disp, show); err != nil {
		if scheduler.IsShutdown(err) {
			return
		}
		logger.Fatalw("recording failed", "path", cfg.RecordPath, "error", err)
	}

	take, err := wav.ReadFile(cfg.RecordPath)
	if err != nil {
		logger.Fatalw("failed to load recording", "path", cfg.RecordPath, "error", err)
	}
	if take.SampleRate != cfg.SampleRate {
		logger.Warnw("recording sample rate differs from output", "recording", take.SampleRate, "output", cfg.SampleRate)
	}
	analysis, err := harmonizer.Analyze(take, cfg.Target)
	if err != nil {
		logger.Fatalw("pitch analysis failed", "error", err)
	}
	logger.Infow("pitch detected",
		"frequency_hz", analysis.Estimate.Frequency,
		"clarity", analysis.Estimate.Clarity,
		"note", analysis.Note,
		"correction", analysis.Plan.Correction,
	)
	show(analysis.Note)

	kind, err := intaudio.ParseKind(cfg.Output)
	if err != nil {
		logger.Fatalw("invalid output", "error", err)
	}
	opts := []harmonizer.Option{
		harmonizer.WithOutput(kind),
		harmonizer.WithGain(cfg.Gain),
		harmonizer.WithPeriod(cfg.Period),
		harmonizer.WithRamp(&eq.Ramp{Steps: eq.DefaultRampSteps, Interval: cfg.RampInterval, Start: eq.DefaultRampStart}),
		harmonizer.WithLogger(logger),
	}
	switch strings.ToLower(cfg.Mixer) {
	case "amixer", "both":
		amixer := eq.NewAmixer(cfg.AmixerCard)
		if err := amixer.Enable(); err != nil {
			logger.Warnw("failed to enable hardware EQ", "card", cfg.AmixerCard, "error", err)
		}
		opts = append(opts, harmonizer.WithWriters(amixer), harmonizer.WithSoftwareEQ(strings.EqualFold(cfg.Mixer, "both")))
	case "software":
	default:
		logger.Fatalw("invalid mixer", "mixer", cfg.Mixer)
	}
	h, err := harmonizer.New(take.SampleRate, opts...)
	if err != nil {
		logger.Fatalw("failed to create harmonizer", "error", err)
	}
	h.Bank().Flat()

	ctl, release, err := newController(ctx, cfg, h.Bank(), logger)
	if err != nil {
		logger.Fatalw("failed to start ranging", "sensor", cfg.Sensor, "error", err)
	}
	if ctl != nil {
		go func() {
			defer release()
			if err := ctl.Run(ctx); err != nil && !scheduler.IsShutdown(err) {
				logger.Fatalw("ranging sensor failed", "error", err)
			}
		}()
	}

	show("playing")
	if err := h.Play(ctx, take, analysis.Plan); err != nil {
		logger.Fatalw("playback failed", "error", err)
	}
	if err := disp.Clear(); err != nil {
		logger.Debugw("display clear failed", "error", err)
	}
	logger.Infow("stopped")
}

func needsHost(cfg config.Config) bool {
	return strings.EqualFold(cfg.Sensor, "vl53l1x") ||
		strings.EqualFold(cfg.Display, string(display.KindSSD1306)) ||
		(strings.EqualFold(cfg.Trigger, string(record.TriggerGPIO)) && !strings.EqualFold(cfg.Recorder, string(record.KindNone)))
}

func openDisplay(cfg config.Config) (display.Display, func(), error) {
	kind, err := display.ParseKind(cfg.Display)
	if err != nil {
		return nil, nil, err
	}
	switch kind {
	case display.KindSSD1306:
		oled, err := display.OpenSSD1306(cfg.I2CBus)
		if err != nil {
			return nil, nil, err
		}
		return oled, func() { _ = oled.Close() }, nil
	case display.KindTerminal:
		return display.NewTerminal(os.Stdout), func() {}, nil
	default:
		return display.Nop{}, func() {}, nil
	}
}

func captureTake(ctx context.Context, cfg config.Config, disp display.Display, show func(string)) error {
	kind, err := record.ParseKind(cfg.Recorder)
	if err != nil {
		return err
	}
	if kind == record.KindNone {
		return nil
	}
	var rec record.Recorder
	switch kind {
	case record.KindPortAudio:
		rec = record.NewPortAudio(cfg.SampleRate)
	default:
		rec = record.NewArecord(cfg.RecordDevice, cfg.SampleRate)
	}
	trig, err := newTrigger(cfg)
	if err != nil {
		return err
	}
	if err := display.Countdown(ctx, disp, cfg.Countdown, time.Second); err != nil {
		return err
	}
	show("Recording")
	return record.Record(ctx, rec, trig, cfg.RecordPath)
}

func newTrigger(cfg config.Config) (record.Trigger, error) {
	kind, err := record.ParseTrigger(cfg.Trigger)
	if err != nil {
		return nil, err
	}
	switch kind {
	case record.TriggerKey:
		fmt.Println("press any key to stop recording")
		return record.Key{Input: os.Stdin, FD: int(os.Stdin.Fd())}, nil
	case record.TriggerTimer:
		return record.Timer{After: cfg.RecordFor}, nil
	default:
		pin, err := gpio.OpenFallingEdge(cfg.ButtonPin)
		if err != nil {
			return nil, err
		}
		return record.Button{Pin: pin, Interval: 10 * time.Millisecond}, nil
	}
}

// newController returns a nil controller when ranging is disabled. release
// frees the sensor's bus once the controller has stopped.
func newController(ctx context.Context, cfg config.Config, bank eq.BandWriter, logger *zap.SugaredLogger) (*filter.Controller, func(), error) {
	mode, err := ranging.ParseDistanceMode(cfg.DistanceMode)
	if err != nil {
		return nil, nil, err
	}
	var (
		sensor  ranging.Sensor
		pin     gpio.EdgeWaiter
		release = func() {}
	)
	switch strings.ToLower(cfg.Sensor) {
	case "none", "":
		return nil, release, nil
	case "sim":
		sim := ranging.NewSim()
		sim.Generate = ranging.HandSweep(time.Now(), 8*time.Second)
		simPin := gpio.NewSimPin()
		go simPin.Pulse(ctx, 50*time.Millisecond)
		sensor, pin = sim, simPin
	case "vl53l1x":
		blob, err := ranging.ReadConfigFile(cfg.SensorConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("read sensor config: %w", err)
		}
		dev, bus, err := ranging.OpenVL53L1X(cfg.I2CBus, ranging.DefaultAddress, blob)
		if err != nil {
			return nil, nil, err
		}
		irq, err := gpio.OpenFallingEdge(cfg.IRQPin)
		if err != nil {
			_ = bus.Close()
			return nil, nil, err
		}
		sensor, pin = dev, irq
		release = func() { _ = bus.Close() }
	default:
		return nil, nil, errors.New("unknown sensor (expected vl53l1x|sim|none)")
	}
	ctl := filter.NewController(filter.Context{
		Sensor: ranging.NewHandle(sensor, ranging.RegionA),
		State:  filter.NewState(),
		Bands:  bank,
	}, pin, mode, filter.WithLogger(logger))
	if err := ctl.Start(); err != nil {
		release()
		return nil, nil, err
	}
	return ctl, release, nil
}

func newLogger() *zap.SugaredLogger {
	level := strings.ToLower(os.Getenv("HARMONIZER_LOG_LEVEL"))
	cfg := zap.NewProductionConfig()

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger.Sugar()
}
