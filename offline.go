package harmonizer

import (
	"time"

	"github.com/cbegin/harmonizer-go/internal/harmony"
	"github.com/cbegin/harmonizer-go/internal/voice"
	"github.com/cbegin/harmonizer-go/internal/wav"
)

// RenderHarmony renders seconds of interleaved stereo output the way Play
// would produce it: voices restart every period and the EQ ramp writes land
// at their scripted offsets. Writers passed with WithWriters receive the
// ramp's band writes as well. It returns nil for a missing or empty source.
func RenderHarmony(src *wav.Waveform, plan harmony.Plan, seconds float64, opts ...Option) []float32 {
	if src == nil || len(src.Samples) == 0 || seconds <= 0 {
		return nil
	}
	h, err := New(src.SampleRate, opts...)
	if err != nil {
		return nil
	}
	rate := src.SampleRate
	total := int(float64(rate) * seconds)
	out := make([]float32, total*2)
	periodFrames := framesFor(h.cfg.period, rate)
	if periodFrames <= 0 {
		periodFrames = total
	}

	pos := 0
	renderTo := func(frame int) {
		frame = min(frame, total)
		if frame > pos {
			h.mixer.Process(out[pos*2 : frame*2])
			pos = frame
		}
	}

	var live []voice.ID
	for session, start := 1, 0; start < total; session, start = session+1, start+periodFrames {
		for _, id := range live {
			h.mixer.StopVoice(id)
		}
		live = live[:0]
		for _, v := range plan.Voices {
			id, err := h.mixer.StartVoice(src, v.Speed)
			if err != nil {
				return out
			}
			live = append(live, id)
		}
		if h.cfg.onSession != nil {
			h.cfg.onSession(session)
		}
		end := start + periodFrames
		if r := h.cfg.ramp; r != nil {
			step := framesFor(r.Interval, rate)
			script := r.Script()
			for _, w := range script {
				at := start + (w.Step-1)*step
				if at >= end {
					break
				}
				renderTo(at)
				_ = h.bank.Set(w.Band, w.Level)
			}
		}
		renderTo(end)
	}
	return out
}

func framesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a WAV container.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	return wav.EncodeFloat32(samples, sampleRate, channels)
}
