package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultPoll bounds how long a watcher blocks in the driver before it
// checks for cancellation.
const DefaultPoll = 100 * time.Millisecond

// EdgeWaiter is an input pin armed for edge detection. periph's gpio.PinIO
// satisfies it.
type EdgeWaiter interface {
	WaitForEdge(timeout time.Duration) bool
}

// LevelReader is an input pin whose level can be sampled.
type LevelReader interface {
	Read() gpio.Level
}

var (
	hostOnce sync.Once
	hostErr  error
)

// Init loads the periph host drivers once per process.
func Init() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// OpenFallingEdge returns the named pin configured as a pulled-up input that
// reports falling edges, the way an open-drain interrupt line is wired.
func OpenFallingEdge(name string) (gpio.PinIO, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("gpio host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	return p, nil
}

// Watch calls fn once for every edge reported by pin until ctx is done or fn
// returns an error. Calls are made from a single goroutine, so fn is never
// re-entered. The error from fn is returned unchanged.
func Watch(ctx context.Context, pin EdgeWaiter, poll time.Duration, fn func() error) error {
	if poll <= 0 {
		poll = DefaultPoll
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !pin.WaitForEdge(poll) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
	}
}

// WaitLow blocks until pin reads low, polling every interval.
func WaitLow(ctx context.Context, pin LevelReader, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for pin.Read() == gpio.High {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// SimPin is an EdgeWaiter and LevelReader driven from code.
type SimPin struct {
	edges chan struct{}
	mu    sync.Mutex
	level gpio.Level
}

func NewSimPin() *SimPin {
	return &SimPin{edges: make(chan struct{}, 64), level: gpio.High}
}

// Trigger queues one falling edge and drives the pin low.
func (p *SimPin) Trigger() {
	p.mu.Lock()
	p.level = gpio.Low
	p.mu.Unlock()
	select {
	case p.edges <- struct{}{}:
	default:
	}
}

// Release drives the pin high again.
func (p *SimPin) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = gpio.High
}

func (p *SimPin) WaitForEdge(timeout time.Duration) bool {
	if timeout < 0 {
		<-p.edges
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.edges:
		return true
	case <-t.C:
		return false
	}
}

func (p *SimPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Pulse triggers the pin every period until ctx is done, standing in for a
// sensor that signals a new result at a fixed rate.
func (p *SimPin) Pulse(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Trigger()
		}
	}
}
