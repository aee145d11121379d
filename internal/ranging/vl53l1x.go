package ranging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// DefaultAddress is the VL53L1X's factory I2C address.
const DefaultAddress = 0x29

const (
	regConfigStart          = 0x002D
	regVHVLoopBound         = 0x0008
	regGPIOHVMuxCtrl        = 0x0030
	regGPIOTIOHVStatus      = 0x0031
	regPhasecalTimeout      = 0x004B
	regVCSELPeriodA         = 0x0060
	regVCSELPeriodB         = 0x0063
	regValidPhaseHigh       = 0x0069
	regWOISD0               = 0x0078
	regInitialPhaseSD0      = 0x007A
	regROICentreSPAD        = 0x007F
	regROIXYSize            = 0x0080
	regInterruptClear       = 0x0086
	regModeStart            = 0x0087
	regRangeStatus          = 0x0089
	regFinalRangeMM         = 0x0096
	regFirmwareSystemStatus = 0x00E5
	regModelID              = 0x010F

	modelID = 0xEACC
)

// rangeStatusMap translates the raw result status into the reduced codes of
// ST's driver, where 0 is a valid measurement.
var rangeStatusMap = [24]uint8{255, 255, 255, 5, 2, 4, 1, 7, 3, 0, 255, 255, 9, 13, 255, 255, 255, 255, 10, 6, 255, 255, 11, 12}

var ErrNotVL53L1X = errors.New("ranging: device is not a VL53L1X")

// Bus is the register transport. periph's *i2c.Dev satisfies it.
type Bus interface {
	Tx(w, r []byte) error
}

// VL53L1X drives an ST VL53L1X time-of-flight sensor.
type VL53L1X struct {
	bus  Bus
	poll time.Duration
}

// OpenVL53L1X opens the named I2C bus ("" for the first one) and returns an
// initialized sensor. config, when non-empty, is ST's default configuration
// block written to the sensor before the first measurement.
func OpenVL53L1X(busName string, addr uint16, config []byte) (*VL53L1X, i2c.BusCloser, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	dev := NewVL53L1X(&i2c.Dev{Bus: bus, Addr: addr})
	if err := dev.Init(config); err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}

// ReadConfigFile loads a default configuration block from disk.
func ReadConfigFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func NewVL53L1X(bus Bus) *VL53L1X {
	return &VL53L1X{bus: bus, poll: time.Millisecond}
}

// Init checks the model ID, waits for the firmware to boot, loads config
// and runs one throwaway measurement to settle the VHV loop.
func (d *VL53L1X) Init(config []byte) error {
	id, err := d.read16(regModelID)
	if err != nil {
		return fmt.Errorf("read model id: %w", err)
	}
	if id != modelID {
		return fmt.Errorf("%w: model id %#04x", ErrNotVL53L1X, id)
	}
	for {
		st, err := d.read8(regFirmwareSystemStatus)
		if err != nil {
			return fmt.Errorf("read boot state: %w", err)
		}
		if st&0x01 != 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if len(config) > 0 {
		if err := d.write(regConfigStart, config); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := d.write8(regModeStart, 0x40); err != nil {
		return err
	}
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.write8(regInterruptClear, 0x01); err != nil {
		return err
	}
	if err := d.write8(regModeStart, 0x00); err != nil {
		return err
	}
	if err := d.write8(regVHVLoopBound, 0x09); err != nil {
		return err
	}
	return d.write8(0x000B, 0x00)
}

// SetROI programs the receiver window.
func (d *VL53L1X) SetROI(roi ROI) error {
	w, h := clampROI(roi.Width), clampROI(roi.Height)
	if err := d.write8(regROIXYSize, (h-1)<<4|(w-1)); err != nil {
		return err
	}
	return d.write8(regROICentreSPAD, roi.Center)
}

func clampROI(v uint8) uint8 {
	if v < 4 {
		return 4
	}
	if v > 16 {
		return 16
	}
	return v
}

// StartRanging applies the timing profile for mode and starts continuous
// measurement. The sensor raises its interrupt line once per result.
func (d *VL53L1X) StartRanging(mode DistanceMode) error {
	type profile struct {
		phasecal, vcselA, vcselB, validPhase uint8
		woi, initialPhase                    uint16
	}
	p := profile{0x14, 0x07, 0x05, 0x38, 0x0705, 0x0606}
	if mode == Long {
		p = profile{0x0A, 0x0F, 0x0D, 0xB8, 0x0F0D, 0x0E0E}
	}
	steps := []func() error{
		func() error { return d.write8(regPhasecalTimeout, p.phasecal) },
		func() error { return d.write8(regVCSELPeriodA, p.vcselA) },
		func() error { return d.write8(regVCSELPeriodB, p.vcselB) },
		func() error { return d.write8(regValidPhaseHigh, p.validPhase) },
		func() error { return d.write16(regWOISD0, p.woi) },
		func() error { return d.write16(regInitialPhaseSD0, p.initialPhase) },
		func() error { return d.write8(regInterruptClear, 0x01) },
		func() error { return d.write8(regModeStart, 0x40) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("start ranging: %w", err)
		}
	}
	return nil
}

// ReadSample waits for a result, reads it, and clears the interrupt.
func (d *VL53L1X) ReadSample() (DistanceSample, error) {
	if err := d.waitReady(); err != nil {
		return DistanceSample{}, err
	}
	raw, err := d.read8(regRangeStatus)
	if err != nil {
		return DistanceSample{}, err
	}
	dist, err := d.read16(regFinalRangeMM)
	if err != nil {
		return DistanceSample{}, err
	}
	if err := d.write8(regInterruptClear, 0x01); err != nil {
		return DistanceSample{}, err
	}
	status := StatusInvalid
	if code := raw & 0x1F; code < uint8(len(rangeStatusMap)) && rangeStatusMap[code] == 0 {
		status = StatusOk
	}
	return DistanceSample{DistanceMM: dist, Status: status}, nil
}

func (d *VL53L1X) waitReady() error {
	mux, err := d.read8(regGPIOHVMuxCtrl)
	if err != nil {
		return err
	}
	// Interrupt polarity is active high when bit 4 is clear.
	activeHigh := uint8(1)
	if mux&0x10 != 0 {
		activeHigh = 0
	}
	for {
		st, err := d.read8(regGPIOTIOHVStatus)
		if err != nil {
			return err
		}
		if st&0x01 == activeHigh {
			return nil
		}
		time.Sleep(d.poll)
	}
}

func (d *VL53L1X) write(reg uint16, data []byte) error {
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, reg)
	copy(buf[2:], data)
	return d.bus.Tx(buf, nil)
}

func (d *VL53L1X) write8(reg uint16, v uint8) error {
	return d.write(reg, []byte{v})
}

func (d *VL53L1X) write16(reg uint16, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return d.write(reg, b[:])
}

func (d *VL53L1X) read(reg uint16, n int) ([]byte, error) {
	var addr [2]byte
	binary.BigEndian.PutUint16(addr[:], reg)
	out := make([]byte, n)
	if err := d.bus.Tx(addr[:], out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *VL53L1X) read8(reg uint16) (uint8, error) {
	b, err := d.read(reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *VL53L1X) read16(reg uint16) (uint16, error) {
	b, err := d.read(reg, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}
