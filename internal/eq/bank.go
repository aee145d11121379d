package eq

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	intfx "github.com/cbegin/harmonizer-go/internal/effects"
)

const (
	// Bands is the number of EQ bands, indexed 1..Bands.
	Bands = 5
	// MinLevel and MaxLevel bound every band level.
	MinLevel = 0
	MaxLevel = intfx.MaxLevel
	// CrossoverBand is shared by both filter branches and floor-limited.
	CrossoverBand = 3
)

var (
	ErrBandRange  = errors.New("eq: band out of range")
	ErrLevelRange = errors.New("eq: level out of range")
)

// Writer is the mixer-write collaborator. Implementations push a level to the
// hardware or software mixer; failures are reported but never retried.
type Writer interface {
	WriteBand(band, level int) error
}

// BandWriter is what filter logic needs from the band state.
type BandWriter interface {
	Set(band, level int) error
}

// Validate reports whether band and level are in range.
func Validate(band, level int) error {
	if band < 1 || band > Bands {
		return fmt.Errorf("%w: %d", ErrBandRange, band)
	}
	if level < MinLevel || level > MaxLevel {
		return fmt.Errorf("%w: band %d level %d", ErrLevelRange, band, level)
	}
	return nil
}

// Bank is the shared band-level state. Each band is an independent atomic
// cell: concurrent writers are not ordered against each other and the last
// write wins. Accepted writes are forwarded to every Writer; writer errors
// are logged and dropped.
type Bank struct {
	levels  [Bands]atomic.Int32
	writers []Writer
	logger  *zap.SugaredLogger
	writes  atomic.Uint64
}

// NewBank creates a bank with every band at MaxLevel. Nothing is written to
// the writers until Set or Flat is called.
func NewBank(logger *zap.SugaredLogger, writers ...Writer) *Bank {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &Bank{writers: writers, logger: logger}
	for i := range b.levels {
		b.levels[i].Store(MaxLevel)
	}
	return b
}

// Set stores level for band and forwards it. Out-of-range arguments are
// rejected and leave the stored level untouched.
func (b *Bank) Set(band, level int) error {
	if err := Validate(band, level); err != nil {
		return err
	}
	b.levels[band-1].Store(int32(level))
	b.writes.Add(1)
	for _, w := range b.writers {
		if err := w.WriteBand(band, level); err != nil {
			b.logger.Debugw("mixer write failed", "band", band, "level", level, "error", err)
		}
	}
	return nil
}

// Level returns the last level stored for band, or -1 for an invalid band.
func (b *Bank) Level(band int) int {
	if band < 1 || band > Bands {
		return -1
	}
	return int(b.levels[band-1].Load())
}

// Levels returns a snapshot of all five levels.
func (b *Bank) Levels() [Bands]int {
	var out [Bands]int
	for i := range b.levels {
		out[i] = int(b.levels[i].Load())
	}
	return out
}

// Writes returns the number of accepted writes so far.
func (b *Bank) Writes() uint64 {
	return b.writes.Load()
}

// Flat sets every band to MaxLevel.
func (b *Bank) Flat() {
	for band := 1; band <= Bands; band++ {
		_ = b.Set(band, MaxLevel)
	}
}
