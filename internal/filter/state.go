package filter

import (
	"math"
	"sync/atomic"
)

const unsetFloor = math.MaxInt32

// State is shared between the goroutine that starts ranging and the
// interrupt handler. Each field is updated atomically on its own; nothing
// orders an update of one against the other.
type State struct {
	region atomic.Bool
	floor  atomic.Int32
}

// NewState returns a state with region A selected and no crossover floor.
func NewState() *State {
	s := &State{}
	s.region.Store(true)
	s.floor.Store(unsetFloor)
	return s
}

// Region reports the region flag. True selects the low-pass branch.
func (s *State) Region() bool {
	return s.region.Load()
}

func (s *State) SetRegion(v bool) {
	s.region.Store(v)
}

// Floor returns the crossover floor and whether one has been observed.
func (s *State) Floor() (int, bool) {
	v := s.floor.Load()
	if v == unsetFloor {
		return 0, false
	}
	return int(v), true
}

// LowerFloor sets the floor to min(floor, strength) and returns the result.
// The floor never increases.
func (s *State) LowerFloor(strength int) int {
	v := int32(strength)
	for {
		cur := s.floor.Load()
		if v >= cur {
			return int(cur)
		}
		if s.floor.CompareAndSwap(cur, v) {
			return strength
		}
	}
}
