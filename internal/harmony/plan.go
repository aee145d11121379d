package harmony

import (
	"errors"
	"fmt"
	"math"

	"github.com/cbegin/harmonizer-go/internal/pitch"
)

// DefaultTarget is the pitch every recording is corrected to (C5).
const DefaultTarget = 523.2

// Ratios are the interval ratios of the three voices: unison, major third
// and perfect fifth.
var Ratios = [3]float64{1.0, 1.26, 1.498}

// ErrDegeneratePitch is returned when the detected frequency cannot be used
// as a divisor.
var ErrDegeneratePitch = errors.New("harmony: degenerate pitch")

// Voice is one of the three harmony voices.
type Voice struct {
	IntervalRatio float64
	Speed         float64
}

// Plan holds the correction applied to a recording and the derived voices.
type Plan struct {
	Target     float64
	Detected   float64
	Correction float64
	Voices     [3]Voice
}

// Speeds returns the playback speed of each voice.
func (p Plan) Speeds() [3]float64 {
	var out [3]float64
	for i, v := range p.Voices {
		out[i] = v.Speed
	}
	return out
}

// Correction returns target/freq.
func Correction(target, freq float64) (float64, error) {
	if !(freq > 0) || math.IsInf(freq, 0) {
		return 0, fmt.Errorf("%w: frequency %v", ErrDegeneratePitch, freq)
	}
	if !(target > 0) || math.IsInf(target, 0) {
		return 0, fmt.Errorf("%w: target %v", ErrDegeneratePitch, target)
	}
	c := target / freq
	if math.IsInf(c, 0) || c == 0 {
		return 0, fmt.Errorf("%w: correction %v", ErrDegeneratePitch, c)
	}
	return c, nil
}

// NewPlan derives the correction and the three voice speeds for est.
func NewPlan(est pitch.Estimate, target float64) (Plan, error) {
	c, err := Correction(target, est.Frequency)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{Target: target, Detected: est.Frequency, Correction: c}
	for i, r := range Ratios {
		s := r * c
		if !(s > 0) || math.IsInf(s, 0) {
			return Plan{}, fmt.Errorf("%w: voice %d speed %v", ErrDegeneratePitch, i, s)
		}
		p.Voices[i] = Voice{IntervalRatio: r, Speed: s}
	}
	return p, nil
}
