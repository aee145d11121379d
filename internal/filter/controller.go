package filter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cbegin/harmonizer-go/internal/eq"
	"github.com/cbegin/harmonizer-go/internal/gpio"
	"github.com/cbegin/harmonizer-go/internal/ranging"
)

const (
	// RangeLimitMM is the distance at and beyond which the filter is fully open.
	RangeLimitMM = 300
	// MMPerStep converts millimetres into strength steps.
	MMPerStep = 25
	// MaxStrength means no filtering.
	MaxStrength = eq.MaxLevel
)

// Branch is the coloration applied by an event.
type Branch int

const (
	BranchNone Branch = iota
	BranchLowPass
	BranchHighPass
)

func (b Branch) String() string {
	switch b {
	case BranchLowPass:
		return "low-pass"
	case BranchHighPass:
		return "high-pass"
	default:
		return "none"
	}
}

// Strength maps a distance to a filter strength in [0, 12]. Closer objects
// give smaller strengths, which filter harder.
func Strength(distanceMM uint16) int {
	if distanceMM >= RangeLimitMM {
		return MaxStrength
	}
	s := int(distanceMM) / MMPerStep
	if s < 0 {
		return 0
	}
	if s > MaxStrength {
		return MaxStrength
	}
	return s
}

// Context is everything a ranging event handler touches.
type Context struct {
	Sensor *ranging.Handle
	State  *State
	Bands  eq.BandWriter
}

// Event describes what a single ranging interrupt did.
type Event struct {
	Sample   ranging.DistanceSample
	Dropped  bool
	Strength int
	Branch   Branch
	ROI      ranging.ROI
	Floor    int
}

// HandleRangeEvent services one ranging interrupt. Invalid samples are
// dropped without touching any state. Sensor errors are returned and must be
// treated as fatal by the caller.
//
// Both branches clear the region flag, so after the first event every event
// takes the high-pass branch.
func HandleRangeEvent(c *Context) (Event, error) {
	var ev Event
	err := c.Sensor.Exclusive(func(a ranging.Access) error {
		sample, err := a.Read()
		if err != nil {
			return fmt.Errorf("read sample: %w", err)
		}
		ev.Sample = sample
		if sample.Status != ranging.StatusOk {
			ev.Dropped = true
			return nil
		}
		ev.Strength = Strength(sample.DistanceMM)
		if c.State.Region() {
			ev.Branch = BranchLowPass
			_ = c.Bands.Set(1, ev.Strength/3)
			_ = c.Bands.Set(2, ev.Strength/2)
			c.State.SetRegion(false)
		} else {
			ev.Branch = BranchHighPass
			_ = c.Bands.Set(4, ev.Strength/3)
			_ = c.Bands.Set(5, ev.Strength/2)
			c.State.SetRegion(false)
		}
		roi, err := a.FlipROI()
		if err != nil {
			return fmt.Errorf("set roi: %w", err)
		}
		ev.ROI = roi
		return nil
	})
	if err != nil || ev.Dropped {
		return ev, err
	}
	ev.Floor = c.State.LowerFloor(ev.Strength)
	_ = c.Bands.Set(eq.CrossoverBand, ev.Floor)
	return ev, nil
}

// Controller runs the ranging loop.
type Controller struct {
	ctx    Context
	pin    gpio.EdgeWaiter
	mode   ranging.DistanceMode
	poll   time.Duration
	logger *zap.SugaredLogger
	// OnEvent, when set, observes every handled event.
	OnEvent func(Event)
}

type Option func(*Controller)

// WithPoll sets how often the interrupt watcher checks for cancellation.
func WithPoll(d time.Duration) Option {
	return func(c *Controller) { c.poll = d }
}

// WithLogger sets the controller's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) { c.logger = l }
}

func NewController(c Context, pin gpio.EdgeWaiter, mode ranging.DistanceMode, opts ...Option) *Controller {
	ctl := &Controller{
		ctx:    c,
		pin:    pin,
		mode:   mode,
		poll:   gpio.DefaultPoll,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// Start begins continuous ranging.
func (c *Controller) Start() error {
	return c.ctx.Sensor.Start(c.mode)
}

// Run services interrupts until ctx is done or the sensor fails. Start must
// have been called.
func (c *Controller) Run(ctx context.Context) error {
	return gpio.Watch(ctx, c.pin, c.poll, func() error {
		ev, err := HandleRangeEvent(&c.ctx)
		if err != nil {
			return err
		}
		if ev.Dropped {
			c.logger.Debugw("ranging sample dropped", "status", ev.Sample.Status.String())
		} else {
			c.logger.Debugw("filter update",
				"distance_mm", ev.Sample.DistanceMM,
				"strength", ev.Strength,
				"branch", ev.Branch.String(),
				"floor", ev.Floor,
			)
		}
		if c.OnEvent != nil {
			c.OnEvent(ev)
		}
		return nil
	})
}
