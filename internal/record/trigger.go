package record

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/cbegin/harmonizer-go/internal/gpio"
)

// Trigger blocks until the user asks recording to stop.
type Trigger interface {
	Wait(ctx context.Context) error
}

// TriggerKind names a trigger implementation.
type TriggerKind string

const (
	TriggerGPIO  TriggerKind = "gpio"
	TriggerKey   TriggerKind = "key"
	TriggerTimer TriggerKind = "timer"
)

func ParseTrigger(name string) (TriggerKind, error) {
	switch TriggerKind(strings.ToLower(strings.TrimSpace(name))) {
	case TriggerGPIO, "":
		return TriggerGPIO, nil
	case TriggerKey:
		return TriggerKey, nil
	case TriggerTimer:
		return TriggerTimer, nil
	default:
		return "", fmt.Errorf("unknown trigger %q (expected gpio|key|timer)", name)
	}
}

// Button fires when an active-low push button reads low.
type Button struct {
	Pin      gpio.LevelReader
	Interval time.Duration
}

func (b Button) Wait(ctx context.Context) error {
	return gpio.WaitLow(ctx, b.Pin, b.Interval)
}

// Key fires on the first byte read from Input. When FD is a terminal it is
// switched to raw mode for the wait so a single keypress is enough.
type Key struct {
	Input io.Reader
	FD    int
}

func (k Key) Wait(ctx context.Context) error {
	if term.IsTerminal(k.FD) {
		old, err := term.MakeRaw(k.FD)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer func() { _ = term.Restore(k.FD, old) }()
	}
	got := make(chan error, 1)
	go func() {
		var b [1]byte
		_, err := io.ReadFull(k.Input, b[:])
		got <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-got:
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		return nil
	}
}

// Timer fires After has elapsed.
type Timer struct {
	After time.Duration
}

func (t Timer) Wait(ctx context.Context) error {
	tm := time.NewTimer(t.After)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}
