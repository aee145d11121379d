package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	// ErrUnsupportedFormat is returned for anything other than 16-bit mono PCM.
	ErrUnsupportedFormat = errors.New("wav: unsupported format")
	// ErrMalformed is returned when the RIFF structure cannot be parsed.
	ErrMalformed = errors.New("wav: malformed file")
)

const (
	formatPCM   = 1
	formatFloat = 3

	// maxFmtSize bounds the fmt chunk, which is at most 40 bytes in practice.
	maxFmtSize = 1 << 16
)

// Waveform is a decoded mono recording normalized to roughly [-1, 1].
// It is read-only once decoded and may be shared by any number of voices.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the length of the recording in seconds.
func (w *Waveform) Duration() float64 {
	if w == nil || w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a RIFF/WAVE stream holding 16-bit signed little-endian mono PCM.
// Samples are scaled by 1/32768.
func Decode(r io.Reader) (*Waveform, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrMalformed)
	}

	var (
		haveFmt    bool
		format     uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return nil, fmt.Errorf("%w: no data chunk", ErrMalformed)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrMalformed)
			}
			if size > maxFmtSize {
				return nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrMalformed, size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
				}
			}
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformed)
			}
			if format != formatPCM || bits != 16 || channels != 1 {
				return nil, fmt.Errorf("%w: format=%d channels=%d bits=%d", ErrUnsupportedFormat, format, channels, bits)
			}
			return decodePCM16(r, size, int(sampleRate))
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
	}
}

func decodePCM16(r io.Reader, size uint32, sampleRate int) (*Waveform, error) {
	// arecord stopped by SIGINT may leave a placeholder size in the header;
	// read whatever is actually present.
	data, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return &Waveform{Samples: out, SampleRate: sampleRate}, nil
}

// EncodePCM16 encodes mono 16-bit PCM samples as a WAV file.
func EncodePCM16(samples []int16, sampleRate int) []byte {
	dataSize := len(samples) * 2
	out := make([]byte, 44+dataSize)
	writeHeader(out, formatPCM, 1, sampleRate, 16, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[44+i*2:], uint16(s))
	}
	return out
}

// EncodeFloat32 encodes interleaved float32 samples as an IEEE float WAV file.
func EncodeFloat32(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	out := make([]byte, 44+dataSize)
	writeHeader(out, formatFloat, channels, sampleRate, 32, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}

func writeHeader(out []byte, format uint16, channels int, sampleRate int, bits int, dataSize int) {
	blockAlign := channels * bits / 8
	byteRate := sampleRate * blockAlign
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], format)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], uint16(bits))
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
}
