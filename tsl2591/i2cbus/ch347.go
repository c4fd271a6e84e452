package i2cbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/serfreeman1337/go-ch347"
	"github.com/sstallion/go-hid"
	"github.com/ztkent/lux-meter/tsl2591"
)

// QinHeng CH347 in mode 1 (HID To UART+SPI+I2C).
const (
	ch347VendorID  = 0x1a86
	ch347ProductID = 0x55dc
	ch347Product   = "HID To UART+SPI+I2C"
	ch347I2CIface  = 1

	// The bridge is only ever pointed at the sensor.
	ch347SensorAddr = 0x29
)

var ErrCH347NotFound = errors.New("i2cbus: ch347 not found")

// hidTimeout retries interrupted reads and bounds each read to a second.
type hidTimeout struct {
	*hid.Device
}

func (d *hidTimeout) Read(p []byte) (n int, err error) {
	for {
		n, err = d.Device.ReadWithTimeout(p, 1*time.Second)
		if err == nil || err.Error() != "Interrupted system call" {
			return
		}
	}
}

// CH347 drives the sensor through a CH347 USB to I2C bridge.
type CH347 struct {
	io  *ch347.IO
	dev *hid.Device
}

// FindCH347 returns the hidraw path of the bridge's I2C interface.
func FindCH347() (string, error) {
	var path string
	err := hid.Enumerate(ch347VendorID, ch347ProductID, func(info *hid.DeviceInfo) error {
		if path == "" && info.ProductStr == ch347Product && info.InterfaceNbr == ch347I2CIface {
			path = info.Path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("i2cbus: enumerate hid: %w", err)
	}
	if path == "" {
		return "", ErrCH347NotFound
	}
	return path, nil
}

// OpenCH347 finds the bridge, opens it and configures the I2C clock.
func OpenCH347() (*CH347, error) {
	path, err := FindCH347()
	if err != nil {
		return nil, err
	}
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, fmt.Errorf("i2cbus: open %s: %w", path, err)
	}
	c := &CH347{io: &ch347.IO{Dev: &hidTimeout{dev}}, dev: dev}
	if err := c.io.SetI2C(ch347.I2CMode3); err != nil {
		dev.Close()
		return nil, fmt.Errorf("i2cbus: configure ch347 i2c: %w", err)
	}
	return c, nil
}

func (c *CH347) Write(addr uint16, w []byte) error {
	if err := checkAddr(tsl2591.Address, addr); err != nil {
		return err
	}
	return c.io.I2C(ch347SensorAddr, w, nil)
}

func (c *CH347) WriteRead(addr uint16, w, r []byte) error {
	if err := checkAddr(tsl2591.Address, addr); err != nil {
		return err
	}
	return c.io.I2C(ch347SensorAddr, w, r)
}

func (c *CH347) Close() error {
	return c.dev.Close()
}
