package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cbegin/harmonizer-go/internal/eq"
	"github.com/cbegin/harmonizer-go/internal/gpio"
	"github.com/cbegin/harmonizer-go/internal/ranging"
)

type bandWrite struct{ band, level int }

type recordingBands struct {
	mu     sync.Mutex
	writes []bandWrite
}

func (r *recordingBands) Set(band, level int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, bandWrite{band, level})
	return eq.Validate(band, level)
}

func (r *recordingBands) take() []bandWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.writes
	r.writes = nil
	return out
}

func ok(mm uint16) ranging.DistanceSample {
	return ranging.DistanceSample{DistanceMM: mm, Status: ranging.StatusOk}
}

func newContext(samples ...ranging.DistanceSample) (*Context, *ranging.Sim, *recordingBands) {
	sim := ranging.NewSim()
	sim.Push(samples...)
	bands := &recordingBands{}
	return &Context{
		Sensor: ranging.NewHandle(sim, ranging.RegionA),
		State:  NewState(),
		Bands:  bands,
	}, sim, bands
}

func TestStrengthMapping(t *testing.T) {
	cases := []struct {
		mm   uint16
		want int
	}{
		{0, 0},
		{24, 0},
		{25, 1},
		{200, 8},
		{299, 11},
		{300, 12},
		{301, 12},
		{8000, 12},
	}
	for _, tc := range cases {
		if got := Strength(tc.mm); got != tc.want {
			t.Errorf("Strength(%d) = %d, want %d", tc.mm, got, tc.want)
		}
	}
}

func TestFloorIsMonotone(t *testing.T) {
	s := NewState()
	if _, set := s.Floor(); set {
		t.Fatal("floor should start unset")
	}
	var got []int
	for _, strength := range []int{8, 5, 9, 3} {
		got = append(got, s.LowerFloor(strength))
	}
	want := []int{8, 5, 5, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("floor sequence = %v, want %v", got, want)
		}
	}
	if f, set := s.Floor(); !set || f != 3 {
		t.Fatalf("Floor() = %d, %v; want 3, true", f, set)
	}
}

func TestFloorConcurrentLowering(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 12; i >= 0; i-- {
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				s.LowerFloor(v)
			}(i)
		}
	}
	wg.Wait()
	if f, _ := s.Floor(); f != 0 {
		t.Fatalf("floor = %d, want 0", f)
	}
}

func TestControllerEventsDriveCrossoverFloor(t *testing.T) {
	// 200mm -> 8, 125mm -> 5, 225mm -> 9, 75mm -> 3
	c, _, bands := newContext(ok(200), ok(125), ok(225), ok(75))
	var floors []int
	for i := 0; i < 4; i++ {
		ev, err := HandleRangeEvent(c)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		floors = append(floors, ev.Floor)
		writes := bands.take()
		last := writes[len(writes)-1]
		if last.band != eq.CrossoverBand || last.level != ev.Floor {
			t.Fatalf("event %d last write = %+v, want band 3 = %d", i, last, ev.Floor)
		}
	}
	want := []int{8, 5, 5, 3}
	for i := range want {
		if floors[i] != want[i] {
			t.Fatalf("floors = %v, want %v", floors, want)
		}
	}
}

func TestControllerRegionFlagAlwaysEndsFalse(t *testing.T) {
	c, _, bands := newContext(ok(150), ok(150), ok(150))
	if !c.State.Region() {
		t.Fatal("region flag should start true")
	}

	ev, err := HandleRangeEvent(c)
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if ev.Branch != BranchLowPass {
		t.Fatalf("first branch = %v, want low-pass", ev.Branch)
	}
	if c.State.Region() {
		t.Fatal("region flag should be false after the first event")
	}
	// strength 6: band1 = 2, band2 = 3, band3 = 6
	wantFirst := []bandWrite{{1, 2}, {2, 3}, {3, 6}}
	if got := bands.take(); !equalWrites(got, wantFirst) {
		t.Fatalf("first event writes = %v, want %v", got, wantFirst)
	}

	for i := 0; i < 2; i++ {
		ev, err := HandleRangeEvent(c)
		if err != nil {
			t.Fatalf("event %d: %v", i+2, err)
		}
		if ev.Branch != BranchHighPass {
			t.Fatalf("event %d branch = %v, want high-pass", i+2, ev.Branch)
		}
		if c.State.Region() {
			t.Fatalf("region flag true after event %d", i+2)
		}
		wantNext := []bandWrite{{4, 2}, {5, 3}, {3, 6}}
		if got := bands.take(); !equalWrites(got, wantNext) {
			t.Fatalf("event %d writes = %v, want %v", i+2, got, wantNext)
		}
	}
}

func TestControllerFlipsRegionOfInterest(t *testing.T) {
	c, sim, _ := newContext(ok(100), ok(100), ok(100))
	for i := 0; i < 3; i++ {
		if _, err := HandleRangeEvent(c); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	want := []ranging.ROI{ranging.RegionB, ranging.RegionA, ranging.RegionB}
	got := sim.ROIHistory()
	if len(got) != len(want) {
		t.Fatalf("roi history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roi history = %v, want %v", got, want)
		}
	}
}

func TestControllerDropsInvalidSample(t *testing.T) {
	c, sim, bands := newContext(ranging.DistanceSample{DistanceMM: 10, Status: ranging.StatusInvalid})
	ev, err := HandleRangeEvent(c)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if !ev.Dropped {
		t.Fatal("invalid sample should be dropped")
	}
	if len(bands.take()) != 0 {
		t.Fatal("dropped event wrote bands")
	}
	if !c.State.Region() {
		t.Fatal("dropped event changed the region flag")
	}
	if _, set := c.State.Floor(); set {
		t.Fatal("dropped event set the floor")
	}
	if len(sim.ROIHistory()) != 0 {
		t.Fatal("dropped event reprogrammed the region of interest")
	}
}

func TestControllerSensorFailureIsReturned(t *testing.T) {
	c, sim, bands := newContext()
	sim.Fail = errors.New("i2c: remote i/o error")
	_, err := HandleRangeEvent(c)
	if !errors.Is(err, sim.Fail) {
		t.Fatalf("err = %v, want wrapped sensor failure", err)
	}
	if len(bands.take()) != 0 {
		t.Fatal("failed event wrote bands")
	}
}

func TestControllerRunServicesInterrupts(t *testing.T) {
	sim := ranging.NewSim()
	sim.Push(ok(200), ranging.DistanceSample{Status: ranging.StatusInvalid}, ok(50))
	bank := eq.NewBank(nil)
	pin := gpio.NewSimPin()
	ctl := NewController(Context{
		Sensor: ranging.NewHandle(sim, ranging.RegionA),
		State:  NewState(),
		Bands:  bank,
	}, pin, ranging.Short, WithPoll(5*time.Millisecond), WithLogger(zaptest.NewLogger(t).Sugar()))
	if err := ctl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if running, mode := sim.Running(); !running || mode != ranging.Short {
		t.Fatalf("sensor not started in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 3)
	ctl.OnEvent = func(ev Event) {
		events <- ev
		if len(events) == 3 {
			cancel()
		}
	}
	for i := 0; i < 3; i++ {
		pin.Trigger()
	}
	if err := ctl.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("handled %d events, want 3", len(events))
	}
	// 200mm: low pass at strength 8; invalid dropped; 50mm: high pass at 2.
	want := [eq.Bands]int{2, 4, 2, 0, 1}
	if got := bank.Levels(); got != want {
		t.Fatalf("levels = %v, want %v", got, want)
	}
}

func TestControllerRunStopsOnSensorFailure(t *testing.T) {
	sim := ranging.NewSim()
	pin := gpio.NewSimPin()
	ctl := NewController(Context{
		Sensor: ranging.NewHandle(sim, ranging.RegionA),
		State:  NewState(),
		Bands:  eq.NewBank(nil),
	}, pin, ranging.Short, WithPoll(5*time.Millisecond))
	pin.Trigger()
	err := ctl.Run(context.Background())
	if !errors.Is(err, ranging.ErrNoSample) {
		t.Fatalf("err = %v, want ErrNoSample", err)
	}
}

type rangeCheckingWriter struct {
	writes atomic.Int64
	bad    atomic.Int64
}

func (w *rangeCheckingWriter) WriteBand(band, level int) error {
	w.writes.Add(1)
	if eq.Validate(band, level) != nil {
		w.bad.Add(1)
	}
	return nil
}

func TestRampAndControllerShareBank(t *testing.T) {
	out := &rangeCheckingWriter{}
	bank := eq.NewBank(zaptest.NewLogger(t).Sugar(), out)
	bank.Flat()

	distances := []uint16{0, 75, 150, 225, 299, 300, 450}
	var next int
	sim := ranging.NewSim()
	sim.Generate = func(ranging.ROI) ranging.DistanceSample {
		d := distances[next%len(distances)]
		next++
		return ok(d)
	}
	pin := gpio.NewSimPin()
	ctl := NewController(Context{
		Sensor: ranging.NewHandle(sim, ranging.RegionA),
		State:  NewState(),
		Bands:  bank,
	}, pin, ranging.Short, WithPoll(time.Millisecond))
	if err := ctl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	var handled atomic.Int64
	ctl.OnEvent = func(Event) { handled.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pin.Pulse(ctx, time.Millisecond)
	runErr := make(chan error, 1)
	go func() { runErr <- ctl.Run(ctx) }()

	stopWatch := make(chan struct{})
	watchDone := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stopWatch:
				watchDone <- nil
				return
			default:
			}
			for band, level := range bank.Levels() {
				if level < eq.MinLevel || level > eq.MaxLevel {
					watchDone <- fmt.Errorf("band %d at %d", band+1, level)
					return
				}
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	ramp := &eq.Ramp{Steps: eq.DefaultRampSteps, Interval: time.Millisecond, Start: eq.DefaultRampStart}
	if err := ramp.Run(ctx, bank); err != nil {
		t.Fatalf("ramp: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for handled.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	close(stopWatch)
	if err := <-watchDone; err != nil {
		t.Fatalf("level out of range during run: %v", err)
	}
	if handled.Load() < 10 {
		t.Fatalf("controller handled %d events, want at least 10", handled.Load())
	}
	if out.bad.Load() != 0 {
		t.Fatalf("%d out-of-range writes reached the mixer", out.bad.Load())
	}
	if got := bank.Writes(); got != uint64(out.writes.Load()) {
		t.Fatalf("bank accepted %d writes, mixer saw %d", got, out.writes.Load())
	}
	for band, level := range bank.Levels() {
		if level < eq.MinLevel || level > eq.MaxLevel {
			t.Fatalf("band %d = %d, want within [%d, %d]", band+1, level, eq.MinLevel, eq.MaxLevel)
		}
	}
}

func equalWrites(a, b []bandWrite) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
