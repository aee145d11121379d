package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

type rampSource struct{ calls int }

func (s *rampSource) Process(dst []float32) {
	s.calls++
	for i := range dst {
		dst[i] = float32(i) * 0.25
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	src := &rampSource{}
	r := NewStreamReader(src)
	p := make([]byte, 8*3+5) // three stereo frames plus a partial frame
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 24 {
		t.Fatalf("n = %d, want 24", n)
	}
	for i := 0; i < 6; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if want := float32(i) * 0.25; got != want {
			t.Errorf("sample %d = %v, want %v", i, got, want)
		}
	}
}

func TestStreamReaderShortBuffer(t *testing.T) {
	src := &rampSource{}
	n, err := NewStreamReader(src).Read(make([]byte, 7))
	if n != 0 || err != nil {
		t.Fatalf("Read(7 bytes) = %d, %v; want 0, nil", n, err)
	}
	if src.calls != 0 {
		t.Fatalf("source rendered %d times for an empty read", src.calls)
	}
}

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"ebiten", KindEbiten, true},
		{"", KindEbiten, true},
		{" OTO ", KindOto, true},
		{"alsa", "", false},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseKind(%q) = %q, %v", tc.in, got, err)
		}
	}
}
