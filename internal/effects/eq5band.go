package effects

import (
	"math"
	"sync/atomic"
)

// MaxLevel is the top of the discrete band level scale. A band at MaxLevel
// passes at unity gain; level 0 silences it.
const MaxLevel = 12

// EQ5Band is a 5-band graphic equalizer driven by discrete levels 0..12.
// Bands are split at 200Hz, 800Hz, 2.5kHz, and 8kHz.
// Gains are stored as uint32 (bit-cast float32) so levels can change from any
// goroutine while the audio thread is reading them.
type EQ5Band struct {
	gains  [5]atomic.Uint32 // float32 bit patterns; 1.0 = unity
	alphas [4]float32       // crossover filter coefficients
	lp     [4]float32       // lowpass state per crossover
}

var defaultCrossovers = [4]float64{200, 800, 2500, 8000}

// NewEQ5Band creates an EQ with every band at MaxLevel.
func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	dt := 1.0 / float64(sampleRate)
	for i, freq := range defaultCrossovers {
		rc := 1.0 / (2.0 * math.Pi * freq)
		eq.alphas[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1.0))
	}
	return eq
}

// SetLevel sets band (1-5) to level (0-12). Out of range arguments are ignored.
func (eq *EQ5Band) SetLevel(band int, level int) bool {
	if band < 1 || band > 5 || level < 0 || level > MaxLevel {
		return false
	}
	eq.gains[band-1].Store(math.Float32bits(float32(level) / MaxLevel))
	return true
}

// Gain returns the current linear gain for band (1-5).
func (eq *EQ5Band) Gain(band int) float32 {
	if band >= 1 && band <= 5 {
		return math.Float32frombits(eq.gains[band-1].Load())
	}
	return 1.0
}

func (eq *EQ5Band) Process(x float32) float32 {
	// Split into 5 bands using 4 cascaded one-pole lowpass crossovers; the
	// residue above the last crossover is the top band.
	var bands [5]float32
	rem := x
	for i := 0; i < 4; i++ {
		eq.lp[i] += eq.alphas[i] * (rem - eq.lp[i])
		bands[i] = eq.lp[i]
		rem -= bands[i]
	}
	bands[4] = rem

	var out float32
	for i := 0; i < 5; i++ {
		out += bands[i] * math.Float32frombits(eq.gains[i].Load())
	}
	return out
}

func (eq *EQ5Band) Reset() {
	for i := range eq.lp {
		eq.lp[i] = 0
	}
}
