package i2cbus

import (
	"fmt"

	"github.com/ztkent/lux-meter/tsl2591"
	"golang.org/x/exp/io/i2c"
)

// Devfs talks to the sensor through a Linux /dev/i2c-N character device.
// The kernel handle is opened for a single slave address.
type Devfs struct {
	dev  *i2c.Device
	addr uint16
}

// OpenDevfs opens path (for example /dev/i2c-1) bound to the TSL2591 address.
func OpenDevfs(path string) (*Devfs, error) {
	device, err := i2c.Open(&i2c.Devfs{Dev: path}, int(tsl2591.Address))
	if err != nil {
		return nil, fmt.Errorf("i2cbus: open %s: %w", path, err)
	}
	return &Devfs{dev: device, addr: tsl2591.Address}, nil
}

func (d *Devfs) Write(addr uint16, w []byte) error {
	if err := checkAddr(d.addr, addr); err != nil {
		return err
	}
	if len(w) == 0 {
		return nil
	}
	return d.dev.WriteReg(w[0], w[1:])
}

// WriteRead sends w then reads len(r) bytes. A single command byte is issued
// as a register read so the kernel performs a repeated start.
func (d *Devfs) WriteRead(addr uint16, w, r []byte) error {
	if err := checkAddr(d.addr, addr); err != nil {
		return err
	}
	if len(w) == 1 {
		return d.dev.ReadReg(w[0], r)
	}
	if err := d.dev.Write(w); err != nil {
		return err
	}
	return d.dev.Read(r)
}

func (d *Devfs) Close() error {
	return d.dev.Close()
}
