package ranging

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrNoSample is returned by Sim when its queue is empty and it has no
// generator.
var ErrNoSample = errors.New("ranging: simulated sensor has no sample")

// Sim is an in-memory Sensor. Queued samples are returned first; after that
// Generate, when set, is asked for a reading for the current region.
type Sim struct {
	mu       sync.Mutex
	queue    []DistanceSample
	roi      ROI
	mode     DistanceMode
	running  bool
	roiHist  []ROI
	Generate func(roi ROI) DistanceSample
	// Fail, when set, is returned by every subsequent call.
	Fail error
}

func NewSim() *Sim {
	return &Sim{}
}

// Push queues samples for ReadSample.
func (s *Sim) Push(samples ...DistanceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, samples...)
}

func (s *Sim) SetROI(roi ROI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.roi = roi
	s.roiHist = append(s.roiHist, roi)
	return nil
}

func (s *Sim) StartRanging(mode DistanceMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.mode = mode
	s.running = true
	return nil
}

func (s *Sim) ReadSample() (DistanceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return DistanceSample{}, s.Fail
	}
	if len(s.queue) > 0 {
		out := s.queue[0]
		s.queue = s.queue[1:]
		return out, nil
	}
	if s.Generate != nil {
		return s.Generate(s.roi), nil
	}
	return DistanceSample{}, ErrNoSample
}

// ROIHistory returns every region programmed so far.
func (s *Sim) ROIHistory() []ROI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ROI(nil), s.roiHist...)
}

// Running reports whether StartRanging has been called and the mode used.
func (s *Sim) Running() (bool, DistanceMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.mode
}

// HandSweep returns a generator imitating a hand moving slowly towards and
// away from the sensor over period, dropping out of range at the far end.
func HandSweep(start time.Time, period time.Duration) func(ROI) DistanceSample {
	return func(roi ROI) DistanceSample {
		phase := float64(time.Since(start)%period) / float64(period)
		if roi == RegionB {
			phase = math.Mod(phase+0.5, 1)
		}
		d := 20 + 480*(0.5+0.5*math.Cos(2*math.Pi*phase))
		if d > 450 {
			return DistanceSample{Status: StatusInvalid}
		}
		return DistanceSample{DistanceMM: uint16(d), Status: StatusOk}
	}
}
