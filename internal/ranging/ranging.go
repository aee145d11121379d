package ranging

import (
	"fmt"
	"strings"
	"sync"
)

// Status is the validity of a ranging sample.
type Status uint8

const (
	StatusOk Status = iota
	StatusInvalid
)

func (s Status) String() string {
	if s == StatusOk {
		return "ok"
	}
	return "invalid"
}

// DistanceSample is one ranging result.
type DistanceSample struct {
	DistanceMM uint16
	Status     Status
}

// DistanceMode selects the sensor's timing profile.
type DistanceMode uint8

const (
	Short DistanceMode = iota + 1
	Long
)

// ParseDistanceMode maps "short" or "long" to a DistanceMode.
func ParseDistanceMode(s string) (DistanceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short", "":
		return Short, nil
	case "long":
		return Long, nil
	default:
		return 0, fmt.Errorf("unknown distance mode %q (expected short|long)", s)
	}
}

// ROI is a region of interest on the sensor's 16x16 receiver array: a
// width x height window around a center SPAD.
type ROI struct {
	Center uint8
	Width  uint8
	Height uint8
}

// The two sensing regions: left and right halves of the field of view.
var (
	RegionA = ROI{Center: 167, Width: 8, Height: 16}
	RegionB = ROI{Center: 231, Width: 8, Height: 16}
)

// Opposite returns the other half of the field of view.
func (r ROI) Opposite() ROI {
	if r == RegionA {
		return RegionB
	}
	return RegionA
}

// Sensor is the ranging collaborator.
type Sensor interface {
	SetROI(roi ROI) error
	StartRanging(mode DistanceMode) error
	// ReadSample blocks until a result is available and re-arms the
	// sensor's interrupt.
	ReadSample() (DistanceSample, error)
}

// Handle owns a Sensor and serializes all access to it. The sensor is never
// handed out directly.
type Handle struct {
	mu     sync.Mutex
	sensor Sensor
	roi    ROI
}

// NewHandle takes ownership of s. The sensor is assumed to be sampling roi.
func NewHandle(s Sensor, roi ROI) *Handle {
	return &Handle{sensor: s, roi: roi}
}

// Start programs the initial region and begins continuous ranging.
func (h *Handle) Start(mode DistanceMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.sensor.SetROI(h.roi); err != nil {
		return fmt.Errorf("set roi: %w", err)
	}
	if err := h.sensor.StartRanging(mode); err != nil {
		return fmt.Errorf("start ranging: %w", err)
	}
	return nil
}

// ROI returns the region currently being sampled.
func (h *Handle) ROI() ROI {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roi
}

// Access is the view of the sensor available inside Exclusive.
type Access struct {
	h *Handle
}

// Read returns the next sample.
func (a Access) Read() (DistanceSample, error) {
	return a.h.sensor.ReadSample()
}

// FlipROI reprograms the sensor to the opposite region and returns it.
func (a Access) FlipROI() (ROI, error) {
	next := a.h.roi.Opposite()
	if err := a.h.sensor.SetROI(next); err != nil {
		return a.h.roi, err
	}
	a.h.roi = next
	return next, nil
}

// Exclusive runs fn with the sensor lock held.
func (h *Handle) Exclusive(fn func(a Access) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(Access{h: h})
}
