package i2cbus

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// Txer is a combined write-then-read transaction. periph.io's i2c.Bus and
// TinyGo's drivers.I2C both have this shape.
type Txer interface {
	Tx(addr uint16, w, r []byte) error
}

// TxBus adapts a Txer to tsl2591.Bus.
type TxBus struct {
	tx Txer
}

func NewTxBus(tx Txer) *TxBus {
	return &TxBus{tx: tx}
}

// NewPeriph wraps an already opened periph.io bus.
func NewPeriph(bus i2c.Bus) *TxBus {
	return NewTxBus(bus)
}

// NewTinyGo wraps a TinyGo machine or driver I2C bus.
func NewTinyGo(bus drivers.I2C) *TxBus {
	return NewTxBus(bus)
}

func (b *TxBus) Write(addr uint16, w []byte) error {
	return b.tx.Tx(addr, w, nil)
}

func (b *TxBus) WriteRead(addr uint16, w, r []byte) error {
	return b.tx.Tx(addr, w, r)
}

// OpenPeriph initialises the periph.io host drivers and opens the named bus.
func OpenPeriph(name string) (*TxBus, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("i2cbus: periph host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("i2cbus: open periph bus %q: %w", name, err)
	}
	return NewPeriph(bus), bus, nil
}
