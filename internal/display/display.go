package display

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

const (
	Width  = 128
	Height = 64
)

// Origin is where the first line of text starts, top-left aligned.
var Origin = image.Pt(8, 8)

// Display shows short status messages.
type Display interface {
	Show(text string) error
	Clear() error
}

// Kind names a display implementation.
type Kind string

const (
	KindSSD1306  Kind = "ssd1306"
	KindTerminal Kind = "terminal"
	KindNone     Kind = "none"
)

func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case KindSSD1306:
		return KindSSD1306, nil
	case KindTerminal, "":
		return KindTerminal, nil
	case KindNone:
		return KindNone, nil
	default:
		return "", fmt.Errorf("unknown display %q (expected ssd1306|terminal|none)", name)
	}
}

// Render draws text into a fresh monochrome frame. Lines are separated by
// '\n'; anything past the right or bottom edge is clipped.
func Render(text string) *image1bit.VerticalLSB {
	frame := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  frame,
		Src:  &image.Uniform{C: image1bit.On},
		Face: face,
	}
	y := Origin.Y + face.Ascent
	for _, line := range strings.Split(text, "\n") {
		d.Dot = fixed.P(Origin.X, y)
		d.DrawString(line)
		y += face.Height
	}
	return frame
}

// Nop discards everything.
type Nop struct{}

func (Nop) Show(string) error { return nil }
func (Nop) Clear() error      { return nil }

// Countdown shows from, from-1, ..., 1, holding each number for step.
func Countdown(ctx context.Context, d Display, from int, step time.Duration) error {
	t := time.NewTicker(step)
	defer t.Stop()
	for n := from; n > 0; n-- {
		if err := d.Show(strconv.Itoa(n)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
