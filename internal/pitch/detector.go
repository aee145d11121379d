package pitch

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"

	"github.com/cbegin/harmonizer-go/internal/wav"
)

const (
	// WindowSize is the number of samples analyzed per recording.
	WindowSize = 1024
	// Padding is the zero padding used by the detector, half the window.
	Padding = WindowSize / 2
	// PowerThreshold rejects windows that are effectively silent.
	PowerThreshold = 0.0001
	// ClarityThreshold rejects windows without a clear periodicity.
	ClarityThreshold = 0.25
)

var (
	// ErrNoPitchDetected is returned when the power or clarity gate rejects the window.
	ErrNoPitchDetected = errors.New("pitch: no pitch detected")
	// ErrShortRecording is returned when a recording holds fewer samples than the window.
	ErrShortRecording = errors.New("pitch: recording shorter than analysis window")
)

// Estimate is the result of one pitch analysis.
type Estimate struct {
	Frequency float64
	Power     float64
	Clarity   float64
}

// Window copies the first n samples of w as float64.
func Window(w *wav.Waveform, n int) ([]float64, error) {
	if w == nil || len(w.Samples) < n {
		got := 0
		if w != nil {
			got = len(w.Samples)
		}
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrShortRecording, got, n)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(w.Samples[i])
	}
	return out, nil
}

// Detector is a McLeod pitch detector. It runs a normalized square
// difference function over lags [0, size-padding) and picks the first
// key maximum that is close enough to the strongest one.
type Detector struct {
	size    int
	padding int
	nsdf    []float64
	buf     []float64
}

func NewDetector(size, padding int) *Detector {
	if padding < 0 || padding >= size {
		padding = size / 2
	}
	return &Detector{
		size:    size,
		padding: padding,
		nsdf:    make([]float64, size-padding),
		buf:     make([]float64, size+padding),
	}
}

// Estimate analyzes window and returns its fundamental frequency. The window
// must hold exactly the detector size. Windows whose power or clarity falls
// under the thresholds fail with ErrNoPitchDetected.
func (d *Detector) Estimate(window []float64, sampleRate int, powerThreshold, clarityThreshold float64) (Estimate, error) {
	if len(window) != d.size {
		return Estimate{}, fmt.Errorf("pitch: window has %d samples, detector expects %d", len(window), d.size)
	}
	if sampleRate <= 0 {
		return Estimate{}, fmt.Errorf("pitch: invalid sample rate %d", sampleRate)
	}
	power := squareSum(window)
	if power < powerThreshold {
		return Estimate{Power: power}, fmt.Errorf("%w: power %.6f below %.6f", ErrNoPitchDetected, power, powerThreshold)
	}

	d.normalizedSquareDifference(window)

	peaks := keyMaxima(d.nsdf)
	if len(peaks) == 0 {
		return Estimate{Power: power}, fmt.Errorf("%w: no key maxima", ErrNoPitchDetected)
	}
	chosen := firstClearPeak(d.nsdf, peaks, clarityThreshold)
	if chosen < 0 {
		return Estimate{Power: power}, fmt.Errorf("%w: no key maximum above clarity %.3f", ErrNoPitchDetected, clarityThreshold)
	}
	lag, value := parabolicPeak(d.nsdf, chosen)
	clarity := value / d.nsdf[0]
	if clarity > 1 {
		clarity = 1
	}
	if clarity < clarityThreshold || lag <= 0 {
		return Estimate{Power: power, Clarity: clarity}, fmt.Errorf("%w: clarity %.3f below %.3f", ErrNoPitchDetected, clarity, clarityThreshold)
	}
	return Estimate{
		Frequency: float64(sampleRate) / lag,
		Power:     power,
		Clarity:   clarity,
	}, nil
}

// normalizedSquareDifference fills d.nsdf with 2*r(tau)/m(tau), where r is the
// autocorrelation and m the sum of squared energies of the overlapping parts.
func (d *Detector) normalizedSquareDifference(x []float64) {
	for i := range d.buf {
		d.buf[i] = 0
	}
	copy(d.buf, x)
	power := fft.FFTReal(d.buf)
	for i, c := range power {
		re, im := real(c), imag(c)
		power[i] = complex(re*re+im*im, 0)
	}
	acf := fft.IFFT(power)

	m := 2 * squareSum(x)
	n := len(x)
	for tau := range d.nsdf {
		if tau > 0 {
			m -= x[tau-1]*x[tau-1] + x[n-tau]*x[n-tau]
		}
		r := real(acf[tau])
		if m > 1e-12 {
			d.nsdf[tau] = 2 * r / m
		} else {
			d.nsdf[tau] = 0
		}
	}
}

// keyMaxima returns the index of the highest value in each positive lobe
// that follows a negative-going zero crossing. The lobe around lag 0 is
// skipped.
func keyMaxima(nsdf []float64) []int {
	var peaks []int
	i := 0
	for i < len(nsdf) && nsdf[i] > 0 {
		i++
	}
	for i < len(nsdf) {
		for i < len(nsdf) && nsdf[i] <= 0 {
			i++
		}
		if i >= len(nsdf) {
			break
		}
		best := i
		for i < len(nsdf) && nsdf[i] > 0 {
			if nsdf[i] > nsdf[best] {
				best = i
			}
			i++
		}
		// A lobe cut off by the end of the lag range has no confirmed maximum.
		if i >= len(nsdf) && best == len(nsdf)-1 {
			break
		}
		peaks = append(peaks, best)
	}
	return peaks
}

// firstClearPeak returns the first key maximum whose value exceeds threshold,
// or -1.
func firstClearPeak(nsdf []float64, peaks []int, threshold float64) int {
	for _, p := range peaks {
		if nsdf[p] > threshold {
			return p
		}
	}
	return -1
}

func parabolicPeak(y []float64, i int) (float64, float64) {
	if i <= 0 || i >= len(y)-1 {
		return float64(i), y[i]
	}
	a, b, c := y[i-1], y[i], y[i+1]
	den := a - 2*b + c
	if den == 0 {
		return float64(i), b
	}
	delta := 0.5 * (a - c) / den
	return float64(i) + delta, b - 0.25*(a-c)*delta
}

func squareSum(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// NoteName returns the nearest equal-tempered note (A4 = 440 Hz) and the
// deviation in cents, e.g. "A4 +3c".
func NoteName(freq float64) string {
	if freq <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return "--"
	}
	names := [...]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	semitones := 12 * math.Log2(freq/440.0)
	rounded := math.Round(semitones)
	cents := int(math.Round(100 * (semitones - rounded)))
	idx := int(math.Mod(rounded+9, 12))
	if idx < 0 {
		idx += 12
	}
	octave := 4 + int(math.Floor((rounded+9)/12))
	return fmt.Sprintf("%s%d %+dc", names[idx], octave, cents)
}
