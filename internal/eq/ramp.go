package eq

import (
	"context"
	"time"
)

const (
	DefaultRampSteps    = 36
	DefaultRampInterval = 138 * time.Millisecond
	DefaultRampStart    = 11
)

// Ramp is the scripted fade run at every playback start. Band 5 steps down
// once per step; bands 4 and 3 step down on every second step. A band stops
// receiving writes once it has been written at level 0.
type Ramp struct {
	Steps    int
	Interval time.Duration
	Start    int
	// Sleep waits between steps. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRamp returns the 36-step, 138 ms fade from level 11.
func DefaultRamp() *Ramp {
	return &Ramp{Steps: DefaultRampSteps, Interval: DefaultRampInterval, Start: DefaultRampStart}
}

// Duration is the total time Run takes when not cancelled.
func (r *Ramp) Duration() time.Duration {
	return time.Duration(r.Steps) * r.Interval
}

// RampWrite is one scripted band write.
type RampWrite struct {
	Step  int
	Band  int
	Level int
}

// Script returns every write Run issues, in order.
func (r *Ramp) Script() []RampWrite {
	var out []RampWrite
	next5, next4, next3 := r.Start, r.Start, r.Start
	for i := 1; i <= r.Steps; i++ {
		if next5 >= 0 {
			out = append(out, RampWrite{Step: i, Band: 5, Level: next5})
			next5--
		}
		if i%2 == 0 && next4 >= 0 {
			out = append(out, RampWrite{Step: i, Band: 4, Level: next4})
			next4--
		}
		if i%2 == 0 && next3 >= 0 {
			out = append(out, RampWrite{Step: i, Band: 3, Level: next3})
			next3--
		}
	}
	return out
}

// Run issues the script against bank, sleeping Interval after each step.
// It returns ctx.Err() if cancelled between steps.
func (r *Ramp) Run(ctx context.Context, bank BandWriter) error {
	script := r.Script()
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	j := 0
	for i := 1; i <= r.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for ; j < len(script) && script[j].Step == i; j++ {
			_ = bank.Set(script[j].Band, script[j].Level)
		}
		if err := sleep(ctx, r.Interval); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
