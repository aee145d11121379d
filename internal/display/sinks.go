package display

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// OLED is a 128x64 SSD1306 panel on an I2C bus.
type OLED struct {
	mu  sync.Mutex
	dev *ssd1306.Dev
	bus i2c.BusCloser
}

// OpenSSD1306 opens the named I2C bus ("" for the first one) and initializes
// the panel. The periph host drivers must already be loaded.
func OpenSSD1306(busName string) (*OLED, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	opts := ssd1306.DefaultOpts
	opts.W, opts.H = Width, Height
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ssd1306 init: %w", err)
	}
	return &OLED{dev: dev, bus: bus}, nil
}

func (o *OLED) Show(text string) error {
	return o.draw(Render(text))
}

func (o *OLED) Clear() error {
	return o.draw(image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height)))
}

func (o *OLED) draw(frame *image1bit.VerticalLSB) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dev.Draw(frame.Bounds(), frame, image.Point{})
}

// Close blanks the panel and releases the bus.
func (o *OLED) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	haltErr := o.dev.Halt()
	if err := o.bus.Close(); err != nil {
		return err
	}
	return haltErr
}

// Terminal prints frames as block characters. Only rows holding lit pixels
// are printed, two pixel rows per text line.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Show(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeBlocks(t.w, Render(text))
}

func (t *Terminal) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, "\n")
	return err
}

func writeBlocks(w io.Writer, frame *image1bit.VerticalLSB) error {
	b := frame.Bounds()
	top, bottom := b.Max.Y, b.Min.Y
	right := b.Min.X
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if frame.BitAt(x, y) {
				top = min(top, y)
				bottom = max(bottom, y+1)
				right = max(right, x+1)
			}
		}
	}
	bw := bufio.NewWriter(w)
	for y := top; y < bottom; y += 2 {
		for x := b.Min.X; x < right; x++ {
			upper := bool(frame.BitAt(x, y))
			lower := y+1 < b.Max.Y && bool(frame.BitAt(x, y+1))
			switch {
			case upper && lower:
				bw.WriteRune('█')
			case upper:
				bw.WriteRune('▀')
			case lower:
				bw.WriteRune('▄')
			default:
				bw.WriteByte(' ')
			}
		}
		bw.WriteByte('\n')
	}
	bw.WriteByte('\n')
	return bw.Flush()
}
