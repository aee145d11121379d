package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cbegin/harmonizer-go/internal/harmony"
	"github.com/cbegin/harmonizer-go/internal/pitch"
	"github.com/cbegin/harmonizer-go/internal/voice"
	"github.com/cbegin/harmonizer-go/internal/wav"
)

type call struct {
	start bool
	id    voice.ID
	speed float64
}

type fakeOutput struct {
	mu      sync.Mutex
	calls   []call
	next    voice.ID
	live    map[voice.ID]bool
	failOn  int
	started int
	syncs   int
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{live: map[voice.ID]bool{}}
}

func (f *fakeOutput) StartVoice(src *wav.Waveform, speed float64) (voice.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	if f.failOn > 0 && f.started == f.failOn {
		return 0, errors.New("device busy")
	}
	f.next++
	f.live[f.next] = true
	f.calls = append(f.calls, call{start: true, id: f.next, speed: speed})
	return f.next, nil
}

func (f *fakeOutput) StopVoice(id voice.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
	f.calls = append(f.calls, call{id: id})
}

func (f *fakeOutput) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type syncOutput struct {
	*fakeOutput
}

func (s syncOutput) Synchronized(fn func() error) error {
	s.mu.Lock()
	s.syncs++
	s.mu.Unlock()
	return fn()
}

func testPlan(t *testing.T) harmony.Plan {
	t.Helper()
	plan, err := harmony.NewPlan(pitch.Estimate{Frequency: 440, Power: 1, Clarity: 0.9}, harmony.DefaultTarget)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return plan
}

func testWave() *wav.Waveform {
	return &wav.Waveform{Samples: make([]float32, 4800), SampleRate: 48000}
}

// fakeClock advances only when the scheduler sleeps.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func TestSessionsStartThreeVoicesAndStopThem(t *testing.T) {
	out := newFakeOutput()
	clock := &fakeClock{t: time.Unix(0, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessions := 0
	s := New(out, testWave(), testPlan(t),
		WithClock(clock.now, clock.sleep),
		WithOnStart(func(ctx context.Context, n int) error {
			sessions = n
			if n == 3 {
				cancel()
			}
			return nil
		}),
	)
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v, want context.Canceled", err)
	}
	if sessions != 3 {
		t.Fatalf("sessions = %d, want 3", sessions)
	}
	if out.liveCount() != 0 {
		t.Fatalf("%d voices left playing", out.liveCount())
	}
	want := []float64{523.2 / 440, 1.26 * 523.2 / 440, 1.498 * 523.2 / 440}
	for i := 0; i < 3; i++ {
		base := i * 6
		for j := 0; j < 3; j++ {
			c := out.calls[base+j]
			if !c.start {
				t.Fatalf("session %d call %d is a stop, want start", i+1, j)
			}
			if math.Abs(c.speed-want[j]) > 1e-9 {
				t.Fatalf("session %d voice %d speed = %v, want %v", i+1, j+1, c.speed, want[j])
			}
		}
		for j := 3; j < 6; j++ {
			c := out.calls[base+j]
			if c.start || c.id != out.calls[base+j-3].id {
				t.Fatalf("session %d call %d = %+v, want stop of voice %d", i+1, j, c, out.calls[base+j-3].id)
			}
		}
	}
}

func TestSessionLengthIncludesHookTime(t *testing.T) {
	out := newFakeOutput()
	clock := &fakeClock{t: time.Unix(0, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(out, testWave(), testPlan(t),
		WithClock(clock.now, clock.sleep),
		WithOnStart(func(ctx context.Context, n int) error {
			clock.advance(4968 * time.Millisecond)
			if n == 2 {
				cancel()
			}
			return nil
		}),
	)
	_ = s.Run(ctx)
	if len(clock.sleeps) != 1 {
		t.Fatalf("sleeps = %v, want one", clock.sleeps)
	}
	if clock.sleeps[0] != 32*time.Millisecond {
		t.Fatalf("wait = %v, want 32ms", clock.sleeps[0])
	}
}

func TestSynchronizerWrapsVoiceStarts(t *testing.T) {
	out := syncOutput{newFakeOutput()}
	clock := &fakeClock{t: time.Unix(0, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	s := New(out, testWave(), testPlan(t),
		WithClock(clock.now, clock.sleep),
		WithOnStart(func(context.Context, int) error { cancel(); return nil }),
	)
	_ = s.Run(ctx)
	if out.syncs != 1 {
		t.Fatalf("synchronized calls = %d, want 1", out.syncs)
	}
}

func TestStartFailureStopsStartedVoices(t *testing.T) {
	out := newFakeOutput()
	out.failOn = 3
	s := New(out, testWave(), testPlan(t), WithPeriod(time.Millisecond))
	err := s.Run(context.Background())
	if err == nil || IsShutdown(err) {
		t.Fatalf("err = %v, want start failure", err)
	}
	if out.liveCount() != 0 {
		t.Fatalf("%d voices left playing after failure", out.liveCount())
	}
}

func TestCancelDuringSessionStopsVoices(t *testing.T) {
	out := newFakeOutput()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(out, testWave(), testPlan(t), WithPeriod(time.Hour))
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for out.liveCount() != 3 {
		if time.Now().After(deadline) {
			t.Fatal("voices never started")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !IsShutdown(err) {
			t.Fatalf("err = %v, want shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if out.liveCount() != 0 {
		t.Fatalf("%d voices left playing after cancel", out.liveCount())
	}
}

func TestMixerOutputPlaysRealVoices(t *testing.T) {
	m := voice.NewMixer(48000, nil)
	clock := &fakeClock{t: time.Unix(0, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	active := 0
	s := New(m, testWave(), testPlan(t),
		WithClock(clock.now, clock.sleep),
		WithOnStart(func(context.Context, int) error {
			active = m.Active()
			cancel()
			return nil
		}),
	)
	_ = s.Run(ctx)
	if active != 3 {
		t.Fatalf("active voices during session = %d, want 3", active)
	}
	if m.Active() != 0 {
		t.Fatalf("active voices after run = %d, want 0", m.Active())
	}
}
