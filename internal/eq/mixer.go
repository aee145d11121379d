package eq

import (
	"os/exec"
	"strconv"

	intfx "github.com/cbegin/harmonizer-go/internal/effects"
)

// Amixer writes band levels to an ALSA card's equalizer controls by
// spawning amixer. Band b maps to control numid b+9; numid 9 is the EQ
// enable switch. Commands are started and reaped in the background; the
// caller never waits on them.
type Amixer struct {
	Card string
	// Command builds the process to run. Tests replace it.
	Command func(name string, args ...string) *exec.Cmd
}

// NewAmixer returns a writer for the given ALSA card index.
func NewAmixer(card string) *Amixer {
	return &Amixer{Card: card, Command: exec.Command}
}

// ControlID returns the mixer control number for band.
func ControlID(band int) int {
	return band + 9
}

func (a *Amixer) WriteBand(band, level int) error {
	if err := Validate(band, level); err != nil {
		return err
	}
	return a.cset(ControlID(band), strconv.Itoa(level))
}

// Enable turns on the card's equalizer switch.
func (a *Amixer) Enable() error {
	return a.cset(9, "on")
}

func (a *Amixer) cset(numid int, value string) error {
	cmd := a.Command("amixer", "-c", a.Card, "cset", "numid="+strconv.Itoa(numid), value)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Software applies band levels to the in-process output equalizer.
type Software struct {
	EQ *intfx.EQ5Band
}

func (s Software) WriteBand(band, level int) error {
	if err := Validate(band, level); err != nil {
		return err
	}
	s.EQ.SetLevel(band, level)
	return nil
}
