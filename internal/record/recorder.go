package record

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/cbegin/harmonizer-go/internal/wav"
)

const (
	DefaultDevice     = "plughw:1,0"
	DefaultSampleRate = 48000
	framesPerBuffer   = 1024
)

// ErrNotRecording is returned by Stop when Start has not succeeded.
var ErrNotRecording = errors.New("record: not recording")

// Recorder captures mono 16-bit audio into a WAV file.
type Recorder interface {
	Start(path string) error
	Stop() error
}

// Kind names a recorder implementation.
type Kind string

const (
	KindArecord   Kind = "arecord"
	KindPortAudio Kind = "portaudio"
	// KindNone skips recording and analyzes whatever file is already at the
	// recording path.
	KindNone Kind = "none"
)

func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case KindArecord, "":
		return KindArecord, nil
	case KindPortAudio:
		return KindPortAudio, nil
	case KindNone:
		return KindNone, nil
	default:
		return "", fmt.Errorf("unknown recorder %q (expected arecord|portaudio|none)", name)
	}
}

// Arecord runs ALSA's arecord and stops it with SIGINT, which makes it
// finalize the WAV header.
type Arecord struct {
	Device     string
	SampleRate int
	// Command builds the process to run. Tests replace it.
	Command func(name string, args ...string) *exec.Cmd

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewArecord(device string, sampleRate int) *Arecord {
	if device == "" {
		device = DefaultDevice
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Arecord{Device: device, SampleRate: sampleRate, Command: exec.Command}
}

// Args returns the arecord command line for path.
func (a *Arecord) Args(path string) []string {
	return []string{"-D", a.Device, "-f", "S16_LE", "-c", "1", "-r", strconv.Itoa(a.SampleRate), path}
}

func (a *Arecord) Start(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil {
		return errors.New("record: arecord already running")
	}
	cmd := a.Command("arecord", a.Args(path)...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start arecord: %w", err)
	}
	a.cmd = cmd
	return nil
}

func (a *Arecord) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd == nil {
		return ErrNotRecording
	}
	cmd := a.cmd
	a.cmd = nil
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("interrupt arecord: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// arecord reports the interrupt through its exit status.
			return nil
		}
		return fmt.Errorf("wait arecord: %w", err)
	}
	return nil
}

// capture accumulates input buffers as 16-bit samples.
type capture struct {
	mu      sync.Mutex
	samples []int16
}

func (c *capture) process(in []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range in {
		v := math.Round(float64(s) * 32767)
		v = math.Max(-32768, math.Min(32767, v))
		c.samples = append(c.samples, int16(v))
	}
}

func (c *capture) take() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.samples
	c.samples = nil
	return out
}

// PortAudio records the default input device in-process and writes the
// WAV file when stopped.
type PortAudio struct {
	SampleRate int

	mu     sync.Mutex
	stream *portaudio.Stream
	path   string
	buf    capture
}

func NewPortAudio(sampleRate int) *PortAudio {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &PortAudio{SampleRate: sampleRate}
}

func (p *PortAudio) Start(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return errors.New("record: portaudio already running")
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.SampleRate), framesPerBuffer, p.buf.process)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}
	p.stream = stream
	p.path = path
	return nil
}

func (p *PortAudio) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return ErrNotRecording
	}
	stream := p.stream
	p.stream = nil
	stopErr := stream.Stop()
	_ = stream.Close()
	_ = portaudio.Terminate()
	if stopErr != nil {
		return fmt.Errorf("stop input stream: %w", stopErr)
	}
	return writeCapture(p.path, &p.buf, p.SampleRate)
}

func writeCapture(path string, c *capture, sampleRate int) error {
	return os.WriteFile(path, wav.EncodePCM16(c.take(), sampleRate), 0o644)
}

// Record starts rec, waits for trig and stops it. The recording is stopped
// even if ctx ends first.
func Record(ctx context.Context, rec Recorder, trig Trigger, path string) error {
	if err := rec.Start(path); err != nil {
		return err
	}
	waitErr := trig.Wait(ctx)
	stopErr := rec.Stop()
	if waitErr != nil {
		return waitErr
	}
	return stopErr
}
