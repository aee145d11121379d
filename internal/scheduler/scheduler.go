package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cbegin/harmonizer-go/internal/harmony"
	"github.com/cbegin/harmonizer-go/internal/voice"
	"github.com/cbegin/harmonizer-go/internal/wav"
)

// DefaultPeriod is the length of one playback session.
const DefaultPeriod = 5000 * time.Millisecond

// Output starts and stops resampled voices.
type Output interface {
	StartVoice(src *wav.Waveform, speed float64) (voice.ID, error)
	StopVoice(id voice.ID)
}

// Synchronizer is implemented by outputs that can hold rendering while a
// group of voices is started.
type Synchronizer interface {
	Synchronized(fn func() error) error
}

// Hook runs after every session start. It may block; the session still ends
// Period after it began.
type Hook func(ctx context.Context, session int) error

// Scheduler replays the three harmony voices in fixed-length sessions.
type Scheduler struct {
	out     Output
	src     *wav.Waveform
	plan    harmony.Plan
	period  time.Duration
	onStart Hook
	logger  *zap.SugaredLogger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Scheduler)

// WithPeriod sets the session length.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period = d
		}
	}
}

// WithOnStart installs a hook run right after the voices start.
func WithOnStart(h Hook) Option {
	return func(s *Scheduler) { s.onStart = h }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces the time source and the wait used between start and
// stop.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func New(out Output, src *wav.Waveform, plan harmony.Plan, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		src:    src,
		plan:   plan,
		period: DefaultPeriod,
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run plays sessions until ctx is done, returning ctx.Err(). A voice that
// fails to start ends the loop with that error; voices already started in
// the session are stopped first.
func (s *Scheduler) Run(ctx context.Context) error {
	for session := 1; ; session++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runSession(ctx, session); err != nil {
			return err
		}
	}
}

func (s *Scheduler) runSession(ctx context.Context, session int) error {
	began := s.now()
	ids, err := s.start()
	if err != nil {
		return err
	}
	defer s.stop(ids)
	s.logger.Debugw("voices started", "session", session, "speeds", s.plan.Speeds())

	if s.onStart != nil {
		if err := s.onStart(ctx, session); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warnw("session start hook failed", "session", session, "error", err)
		}
	}
	remaining := s.period - s.now().Sub(began)
	if remaining > 0 {
		if err := s.sleep(ctx, remaining); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) start() ([]voice.ID, error) {
	ids := make([]voice.ID, 0, len(s.plan.Voices))
	startAll := func() error {
		for i, v := range s.plan.Voices {
			id, err := s.out.StartVoice(s.src, v.Speed)
			if err != nil {
				return fmt.Errorf("start voice %d: %w", i+1, err)
			}
			ids = append(ids, id)
		}
		return nil
	}
	var err error
	if so, ok := s.out.(Synchronizer); ok {
		err = so.Synchronized(startAll)
	} else {
		err = startAll()
	}
	if err != nil {
		s.stop(ids)
		return nil, err
	}
	return ids, nil
}

func (s *Scheduler) stop(ids []voice.ID) {
	for _, id := range ids {
		s.out.StopVoice(id)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsShutdown reports whether err only signals that the loop was cancelled.
func IsShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
