package tsl2591

/*
 * tsl2591 - Package for interacting with TSL2591 lux sensors.
 *
 * Ref:
 * https://github.com/adafruit/Adafruit_TSL2591_Library
 * https://github.com/mstahl/tsl2591
 *
 */

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	// settleMargin is added to the integration time before channel data is read.
	settleMargin = 20 * time.Millisecond
	// Each channel is a two byte register pair.
	channelRegisterWidth = 2
)

// Bus is the register transport. Implementations live in package i2cbus.
type Bus interface {
	Write(addr uint16, w []byte) error
	WriteRead(addr uint16, w, r []byte) error
}

// Device is a TSL2591 on a bus it owns exclusively. It is not safe for
// concurrent use.
type Device struct {
	bus    Bus
	delay  Delayer
	conv   Converter
	log    logrus.FieldLogger
	timing IntegrationTime
	gain   Gain
}

type Option func(*Device)

// WithDelay sets how ChannelData waits for integration. Defaults to a
// BlockingDelay on the wall clock.
func WithDelay(d Delayer) Option {
	return func(dev *Device) { dev.delay = d }
}

// WithConverter sets the strategy behind CalculateLux and CalculateNanoLux.
func WithConverter(c Converter) Option {
	return func(dev *Device) { dev.conv = c }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(dev *Device) { dev.log = log }
}

// Reading is one raw acquisition and the configuration it was taken with.
type Reading struct {
	Ch0    uint16
	Ch1    uint16
	Timing IntegrationTime
	Gain   Gain
}

// New checks the device identity and returns a Device configured for 200ms
// integration at low gain. Nothing is written to the sensor.
func New(bus Bus, opts ...Option) (*Device, error) {
	return NewWithConfig(bus, IntegrationTime200MS, GainLow, opts...)
}

// NewWithConfig is New with an explicit initial configuration.
func NewWithConfig(bus Bus, timing IntegrationTime, gain Gain, opts ...Option) (*Device, error) {
	if !timing.Valid() {
		return nil, ErrInvalidIntegrationTime
	}
	if !gain.Valid() {
		return nil, ErrInvalidGain
	}
	tsl := &Device{
		bus:    bus,
		delay:  BlockingDelay{},
		conv:   DefaultConverter,
		log:    l,
		timing: timing,
		gain:   gain,
	}
	for _, opt := range opts {
		opt(tsl)
	}

	id, err := tsl.readByte(RegDeviceID)
	if err != nil {
		return nil, err
	}
	if id != DeviceID {
		return nil, &IDMismatchError{ID: id}
	}
	tsl.log.WithFields(logrus.Fields{"timing": timing.String(), "gain": gain.String()}).Debug("TSL2591 found")
	return tsl, nil
}

func (tsl *Device) Gain() Gain                       { return tsl.gain }
func (tsl *Device) IntegrationTime() IntegrationTime { return tsl.timing }

// SettlingTime is how long ChannelData waits before reading.
func (tsl *Device) SettlingTime() time.Duration {
	return tsl.timing.Duration() + settleMargin
}

// Enable powers the sensor and turns on the ALS and its interrupts.
func (tsl *Device) Enable() error {
	return tsl.writeReg(RegEnable, enableAll)
}

// Disable powers the sensor off.
func (tsl *Device) Disable() error {
	return tsl.writeReg(RegEnable, EnablePowerOff)
}

// SetGain writes gain with the stored integration time and stores it.
func (tsl *Device) SetGain(gain Gain) error {
	if !gain.Valid() {
		return ErrInvalidGain
	}
	if err := tsl.writeControl(tsl.timing, gain); err != nil {
		return err
	}
	tsl.gain = gain
	return nil
}

// SetTiming writes timing with the stored gain and stores it.
func (tsl *Device) SetTiming(timing IntegrationTime) error {
	if !timing.Valid() {
		return ErrInvalidIntegrationTime
	}
	if err := tsl.writeControl(timing, tsl.gain); err != nil {
		return err
	}
	tsl.timing = timing
	return nil
}

// Reapply re-sends the stored gain and integration time without changing them.
func (tsl *Device) Reapply() error {
	return tsl.writeControl(tsl.timing, tsl.gain)
}

// ChannelData waits one integration cycle, then reads channel 0
// (full spectrum) and channel 1 (infrared).
func (tsl *Device) ChannelData(ctx context.Context) (uint16, uint16, error) {
	if err := tsl.delay.Delay(ctx, tsl.SettlingTime()); err != nil {
		return 0, 0, err
	}

	var buf [channelRegisterWidth]byte
	if err := tsl.readReg(RegChan0Low, buf[:]); err != nil {
		return 0, 0, err
	}
	channel0 := binary.BigEndian.Uint16(buf[:])
	if err := tsl.readReg(RegChan1Low, buf[:]); err != nil {
		return 0, 0, err
	}
	channel1 := binary.BigEndian.Uint16(buf[:])

	tsl.log.Debugf("Channel 0: %v, Channel 1: %v", channel0, channel1)
	return channel0, channel1, nil
}

// Luminosity acquires a channel pair and projects it according to mode.
func (tsl *Device) Luminosity(ctx context.Context, mode Mode) (uint16, error) {
	if mode > Visible {
		return 0, ErrInvalidMode
	}
	ch0, ch1, err := tsl.ChannelData(ctx)
	if err != nil {
		return 0, err
	}
	return Project(mode, ch0, ch1)
}

// Project selects one view of a channel pair. The pair is packed as
// ch1<<16 | ch0, the layout the sensor presents in a block read.
func Project(mode Mode, ch0, ch1 uint16) (uint16, error) {
	full := uint32(ch1)<<16 | uint32(ch0)

	switch mode {
	case FullSpectrum:
		return uint16(full & 0xFFFF), nil
	case Infrared:
		return uint16(full >> 16), nil
	case Visible:
		both, ir := full&0xFFFF, full>>16
		if ir > both {
			return 0, ErrInfraredOverflow
		}
		return uint16(both - ir), nil
	default:
		return 0, ErrInvalidMode
	}
}

// SingleShot powers the sensor, reads one channel pair and powers it off
// again. Disable is attempted even when the read fails.
func (tsl *Device) SingleShot(ctx context.Context) (r Reading, err error) {
	if err := tsl.Enable(); err != nil {
		return Reading{}, err
	}
	defer func() {
		err = multierr.Append(err, tsl.Disable())
	}()

	ch0, ch1, err := tsl.ChannelData(ctx)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Ch0: ch0, Ch1: ch1, Timing: tsl.timing, Gain: tsl.gain}, nil
}

// EnableRegister reads the ENABLE register.
func (tsl *Device) EnableRegister() (Enable, error) {
	b, err := tsl.readByte(RegEnable)
	return Enable(b), err
}

// StatusRegister reads the STATUS register.
func (tsl *Device) StatusRegister() (Status, error) {
	b, err := tsl.readByte(RegStatus)
	return Status(b), err
}

// CalculateLux converts a channel pair using the stored configuration.
func (tsl *Device) CalculateLux(ch0, ch1 uint16) (float64, error) {
	return tsl.conv.Lux(tsl.timing, tsl.gain, ch0, ch1)
}

// CalculateNanoLux is CalculateLux in units of 1e-9 lux.
func (tsl *Device) CalculateNanoLux(ch0, ch1 uint16) (int64, error) {
	return tsl.conv.NanoLux(tsl.timing, tsl.gain, ch0, ch1)
}

func (tsl *Device) writeControl(timing IntegrationTime, gain Gain) error {
	ctrl := byte(timing)&controlTimingMask | byte(gain)&controlGainMask
	tsl.log.Debugf("Control: timing=%s gain=%s (0x%02X)", timing, gain, ctrl)
	return tsl.writeReg(RegControl, ctrl)
}

func (tsl *Device) writeReg(reg, val byte) error {
	if err := tsl.bus.Write(Address, []byte{CommandBit | reg, val}); err != nil {
		return &TransportError{Op: "write", Register: reg, Err: err}
	}
	return nil
}

func (tsl *Device) readReg(reg byte, buf []byte) error {
	if err := tsl.bus.WriteRead(Address, []byte{CommandBit | reg}, buf); err != nil {
		return &TransportError{Op: "read", Register: reg, Err: err}
	}
	tsl.log.Debugf("Bytes read: %v", buf)
	return nil
}

func (tsl *Device) readByte(reg byte) (byte, error) {
	var buf [1]byte
	if err := tsl.readReg(reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r Reading) String() string {
	return fmt.Sprintf("ch0=%d ch1=%d (%s, %s)", r.Ch0, r.Ch1, r.Timing, r.Gain)
}
