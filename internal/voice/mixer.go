package voice

import (
	"errors"
	"fmt"
	"math"
	"sync"

	intfx "github.com/cbegin/harmonizer-go/internal/effects"
	"github.com/cbegin/harmonizer-go/internal/wav"
)

// ID identifies a started voice.
type ID uint64

var (
	// ErrInvalidSpeed is returned for non-positive or non-finite speeds.
	ErrInvalidSpeed = errors.New("voice: invalid speed")
	// ErrNoSource is returned when a voice is started without a waveform.
	ErrNoSource = errors.New("voice: no source waveform")
)

// DefaultGain keeps three full-scale voices near unity before the limiter.
const DefaultGain = 0.4

type voice struct {
	id    ID
	src   []float32
	speed float64
	pos   float64
}

// next returns the linearly interpolated sample at the read head and advances
// it by speed. ok is false once the head has passed the end of the source.
func (v *voice) next() (float32, bool) {
	i := int(v.pos)
	if i >= len(v.src) {
		return 0, false
	}
	frac := float32(v.pos - float64(i))
	s := v.src[i]
	if i+1 < len(v.src) {
		s += (v.src[i+1] - s) * frac
	}
	v.pos += v.speed
	return s, true
}

// Mixer plays any number of speed-adjusted copies of a waveform, sums them,
// runs the sum through the output chain, and renders interleaved stereo.
// Voices started inside one Synchronized call begin on the same frame.
type Mixer struct {
	gate   sync.Mutex // held by Synchronized and by rendering
	mu     sync.Mutex // guards voices
	voices []*voice
	nextID ID
	gain   float32
	chain  *intfx.Chain
	mono   []float32
}

type MixerOption func(*Mixer)

// WithGain sets the gain applied to the sum of all voices.
func WithGain(gain float64) MixerOption {
	return func(m *Mixer) {
		if gain >= 0 {
			m.gain = float32(gain)
		}
	}
}

// WithChain replaces the output effect chain.
func WithChain(chain *intfx.Chain) MixerOption {
	return func(m *Mixer) {
		m.chain = chain
	}
}

// NewMixer creates a mixer whose output passes through eq (when non-nil)
// and a limiter.
func NewMixer(sampleRate int, eq *intfx.EQ5Band, opts ...MixerOption) *Mixer {
	chain := intfx.NewChain()
	if eq != nil {
		chain.Add(eq)
	}
	chain.Add(intfx.NewLimiter(sampleRate))
	m := &Mixer{gain: DefaultGain, chain: chain}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartVoice begins playing src at speed source samples per output frame.
func (m *Mixer) StartVoice(src *wav.Waveform, speed float64) (ID, error) {
	if src == nil || len(src.Samples) == 0 {
		return 0, ErrNoSource
	}
	if !(speed > 0) || math.IsInf(speed, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.voices = append(m.voices, &voice{id: m.nextID, src: src.Samples, speed: speed})
	return m.nextID, nil
}

// StopVoice removes a voice. Unknown or already finished IDs are ignored.
func (m *Mixer) StopVoice(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.voices {
		if v.id == id {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// Synchronized runs fn while rendering is blocked, so every voice started by
// fn produces its first sample in the same output frame.
func (m *Mixer) Synchronized(fn func() error) error {
	m.gate.Lock()
	defer m.gate.Unlock()
	return fn()
}

// Active returns the number of voices still producing sound.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Process renders interleaved stereo frames into dst.
func (m *Mixer) Process(dst []float32) {
	frames := len(dst) / 2
	if cap(m.mono) < frames {
		m.mono = make([]float32, frames)
	}
	mono := m.mono[:frames]
	m.RenderMono(mono)
	for i, s := range mono {
		dst[2*i] = s
		dst[2*i+1] = s
	}
}

// RenderMono renders mono samples into dst.
func (m *Mixer) RenderMono(dst []float32) {
	m.gate.Lock()
	defer m.gate.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range dst {
		var sum float32
		live := m.voices[:0]
		for _, v := range m.voices {
			s, ok := v.next()
			if ok {
				sum += s
				live = append(live, v)
			}
		}
		for j := len(live); j < len(m.voices); j++ {
			m.voices[j] = nil
		}
		m.voices = live
		dst[i] = m.chain.Process(sum * m.gain)
	}
}
