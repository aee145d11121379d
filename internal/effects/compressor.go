package effects

import "math"

// Compressor is a peak compressor used to keep the summed voices out of
// clipping.
type Compressor struct {
	threshold float32
	ratio     float32
	attack    float32 // coefficient
	release   float32 // coefficient
	makeup    float32
	env       float32
}

// NewCompressor creates a compressor.
// thresholdDB: threshold in dB (e.g., -6)
// ratio: compression ratio (e.g., 8 for 8:1)
// attackMs, releaseMs: envelope times in ms
// makeupDB: makeup gain in dB
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float32) *Compressor {
	sr := float64(sampleRate)
	if ratio < 1 {
		ratio = 1
	}
	return &Compressor{
		threshold: float32(math.Pow(10, float64(thresholdDB)/20)),
		ratio:     ratio,
		attack:    float32(1.0 - math.Exp(-1.0/(float64(attackMs)*sr/1000.0))),
		release:   float32(1.0 - math.Exp(-1.0/(float64(releaseMs)*sr/1000.0))),
		makeup:    float32(math.Pow(10, float64(makeupDB)/20)),
	}
}

// NewLimiter returns a fast, hard-knee compressor for the output bus.
func NewLimiter(sampleRate int) *Compressor {
	return NewCompressor(sampleRate, -3, 20, 0.5, 80, 0)
}

func (c *Compressor) Process(x float32) float32 {
	abs := float32(math.Abs(float64(x)))
	if abs > c.env {
		c.env += c.attack * (abs - c.env)
	} else {
		c.env += c.release * (abs - c.env)
	}
	return x * c.gain(c.env) * c.makeup
}

func (c *Compressor) gain(env float32) float32 {
	if env <= c.threshold || c.threshold <= 0 {
		return 1.0
	}
	over := env / c.threshold
	return float32(math.Pow(float64(over), float64(1.0/c.ratio-1)))
}

func (c *Compressor) Reset() {
	c.env = 0
}
