package harmonizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	intaudio "github.com/cbegin/harmonizer-go/internal/audio"
	intfx "github.com/cbegin/harmonizer-go/internal/effects"
	"github.com/cbegin/harmonizer-go/internal/eq"
	"github.com/cbegin/harmonizer-go/internal/harmony"
	"github.com/cbegin/harmonizer-go/internal/pitch"
	"github.com/cbegin/harmonizer-go/internal/scheduler"
	"github.com/cbegin/harmonizer-go/internal/voice"
	"github.com/cbegin/harmonizer-go/internal/wav"
)

// Analysis is the pitch estimate of a recording and the harmony derived
// from it.
type Analysis struct {
	Estimate pitch.Estimate
	Plan     harmony.Plan
	Note     string
}

// Analyze estimates the fundamental of the first pitch.WindowSize samples of
// w and plans the three voices that correct it to target.
func Analyze(w *wav.Waveform, target float64) (Analysis, error) {
	window, err := pitch.Window(w, pitch.WindowSize)
	if err != nil {
		return Analysis{}, err
	}
	est, err := pitch.NewDetector(pitch.WindowSize, pitch.Padding).
		Estimate(window, w.SampleRate, pitch.PowerThreshold, pitch.ClarityThreshold)
	if err != nil {
		return Analysis{}, err
	}
	plan, err := harmony.NewPlan(est, target)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{Estimate: est, Plan: plan, Note: pitch.NoteName(est.Frequency)}, nil
}

// Option configures a Harmonizer or an offline render.
type Option func(*config)

type config struct {
	output     intaudio.Kind
	gain       float64
	period     time.Duration
	ramp       *eq.Ramp
	writers    []eq.Writer
	softwareEQ bool
	logger     *zap.SugaredLogger
	onSession  func(session int)
}

func defaultConfig() config {
	return config{
		output:     intaudio.KindEbiten,
		gain:       voice.DefaultGain,
		period:     scheduler.DefaultPeriod,
		ramp:       eq.DefaultRamp(),
		softwareEQ: true,
		logger:     zap.NewNop().Sugar(),
	}
}

// WithOutput selects the audio backend.
func WithOutput(kind intaudio.Kind) Option {
	return func(c *config) { c.output = kind }
}

// WithGain sets the gain applied to the sum of the three voices.
func WithGain(gain float64) Option {
	return func(c *config) { c.gain = gain }
}

// WithPeriod sets the length of one playback session.
func WithPeriod(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.period = d
		}
	}
}

// WithRamp replaces the EQ ramp run at every session start. Nil disables it.
func WithRamp(r *eq.Ramp) Option {
	return func(c *config) { c.ramp = r }
}

// WithWriters adds mixer writers that receive every accepted band level,
// such as an amixer-backed hardware EQ.
func WithWriters(w ...eq.Writer) Option {
	return func(c *config) { c.writers = append(c.writers, w...) }
}

// WithSoftwareEQ controls whether band levels also shape the in-process
// output. It is on by default.
func WithSoftwareEQ(enabled bool) Option {
	return func(c *config) { c.softwareEQ = enabled }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSessionHook installs a callback run at the start of every session,
// before the EQ ramp.
func WithSessionHook(fn func(session int)) Option {
	return func(c *config) { c.onSession = fn }
}

// Harmonizer owns the voice mixer, the shared band levels and the audio
// output of one unit.
type Harmonizer struct {
	mu         sync.Mutex
	sampleRate int
	cfg        config
	eq         *intfx.EQ5Band
	bank       *eq.Bank
	mixer      *voice.Mixer
	audio      intaudio.Backend
}

func New(sampleRate int, opts ...Option) (*Harmonizer, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	h := &Harmonizer{sampleRate: sampleRate, cfg: cfg}
	writers := append([]eq.Writer(nil), cfg.writers...)
	var outEQ *intfx.EQ5Band
	if cfg.softwareEQ {
		outEQ = intfx.NewEQ5Band(sampleRate)
		writers = append(writers, eq.Software{EQ: outEQ})
	}
	h.eq = outEQ
	h.bank = eq.NewBank(cfg.logger, writers...)
	h.mixer = voice.NewMixer(sampleRate, outEQ, voice.WithGain(cfg.gain))
	return h, nil
}

// Bank is the band-level state shared by the ramp and the filter controller.
func (h *Harmonizer) Bank() *eq.Bank {
	return h.bank
}

// EQBand returns the linear gain of the output equalizer for band (1-5), or
// 1 when the software EQ is disabled.
func (h *Harmonizer) EQBand(band int) float32 {
	if h.eq == nil {
		return 1
	}
	return h.eq.Gain(band)
}

// Scheduler builds the session loop for src and plan without starting any
// audio output.
func (h *Harmonizer) Scheduler(src *wav.Waveform, plan harmony.Plan) *scheduler.Scheduler {
	return scheduler.New(h.mixer, src, plan,
		scheduler.WithPeriod(h.cfg.period),
		scheduler.WithLogger(h.cfg.logger),
		scheduler.WithOnStart(h.sessionStart),
	)
}

func (h *Harmonizer) sessionStart(ctx context.Context, session int) error {
	if h.cfg.onSession != nil {
		h.cfg.onSession(session)
	}
	if h.cfg.ramp == nil {
		return nil
	}
	return h.cfg.ramp.Run(ctx, h.bank)
}

// Play opens the audio output and repeats the harmony until ctx is done.
// It returns nil on cancellation.
func (h *Harmonizer) Play(ctx context.Context, src *wav.Waveform, plan harmony.Plan) error {
	h.mu.Lock()
	if h.audio != nil {
		h.mu.Unlock()
		return errors.New("harmonizer: already playing")
	}
	backend, err := intaudio.Open(h.cfg.output, h.sampleRate, h.mixer)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("open %s output: %w", h.cfg.output, err)
	}
	h.audio = backend
	h.mu.Unlock()
	defer h.stopAudio()

	backend.Play()
	h.cfg.logger.Infow("playing harmony",
		"detected_hz", plan.Detected,
		"correction", plan.Correction,
		"speeds", plan.Speeds(),
	)
	err = h.Scheduler(src, plan).Run(ctx)
	if scheduler.IsShutdown(err) {
		return nil
	}
	return err
}

func (h *Harmonizer) stopAudio() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.audio == nil {
		return
	}
	if err := h.audio.Stop(); err != nil {
		h.cfg.logger.Warnw("audio stop failed", "error", err)
	}
	h.audio = nil
}
