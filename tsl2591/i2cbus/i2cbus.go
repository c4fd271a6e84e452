// Package i2cbus binds tsl2591.Bus to the I2C stacks the sensor is deployed
// on: Linux i2c-dev, periph.io, TinyGo drivers and the CH347 USB bridge.
package i2cbus

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ztkent/lux-meter/tsl2591"
)

var (
	ErrUnknownTransport = errors.New("i2cbus: unknown transport")
	ErrWrongAddress     = errors.New("i2cbus: transport is bound to another address")
)

// Transport names accepted by Open.
const (
	TransportDevfs  = "devfs"
	TransportPeriph = "periph"
	TransportCH347  = "ch347"
)

// Transports lists the names accepted by Open.
func Transports() []string {
	return []string{TransportDevfs, TransportPeriph, TransportCH347}
}

// Open connects to the sensor over the named transport. dev is the i2c-dev
// path for devfs, the periph bus name for periph (empty picks the first bus),
// and is ignored for ch347. The returned Closer releases the underlying handle.
func Open(transport, dev string) (tsl2591.Bus, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case "", TransportDevfs:
		b, err := OpenDevfs(dev)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case TransportPeriph:
		b, closer, err := OpenPeriph(dev)
		if err != nil {
			return nil, nil, err
		}
		return b, closer, nil
	case TransportCH347:
		c, err := OpenCH347()
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
}

func checkAddr(bound, addr uint16) error {
	if addr != bound {
		return fmt.Errorf("%w: got 0x%02X, bound to 0x%02X", ErrWrongAddress, addr, bound)
	}
	return nil
}
