package tsl2591

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type busCall struct {
	op   string // write, read or delay
	addr uint16
	w    []byte
	n    int
	wait time.Duration
}

// fakeBus answers register reads from regs and records every transaction.
// Queued channel pairs take precedence over regs for channel reads.
type fakeBus struct {
	regs      map[byte][]byte
	queue     [][2]uint16
	writeErrs map[byte]error
	readErrs  map[byte]error
	calls     []busCall
}

func newFakeBus(id byte) *fakeBus {
	return &fakeBus{
		regs:      map[byte][]byte{RegDeviceID: {id}},
		writeErrs: map[byte]error{},
		readErrs:  map[byte]error{},
	}
}

func (f *fakeBus) setChannels(ch0, ch1 uint16) {
	f.regs[RegChan0Low] = binary.BigEndian.AppendUint16(nil, ch0)
	f.regs[RegChan1Low] = binary.BigEndian.AppendUint16(nil, ch1)
}

func (f *fakeBus) Write(addr uint16, w []byte) error {
	f.calls = append(f.calls, busCall{op: "write", addr: addr, w: append([]byte(nil), w...)})
	return f.writeErrs[w[0]&^CommandBit]
}

func (f *fakeBus) WriteRead(addr uint16, w, r []byte) error {
	f.calls = append(f.calls, busCall{op: "read", addr: addr, w: append([]byte(nil), w...), n: len(r)})
	reg := w[0] &^ CommandBit
	if err := f.readErrs[reg]; err != nil {
		return err
	}
	if (reg == RegChan0Low || reg == RegChan1Low) && len(f.queue) > 0 {
		pair := f.queue[0]
		v := pair[0]
		if reg == RegChan1Low {
			v = pair[1]
			f.queue = f.queue[1:]
		}
		binary.BigEndian.PutUint16(r, v)
		return nil
	}
	copy(r, f.regs[reg])
	return nil
}

func (f *fakeBus) writes() [][]byte {
	var out [][]byte
	for _, c := range f.calls {
		if c.op == "write" {
			out = append(out, c.w)
		}
	}
	return out
}

func (f *fakeBus) ops() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func (f *fakeBus) reset() { f.calls = nil }

// recordingDelay logs waits into the bus call list so ordering can be checked.
type recordingDelay struct {
	bus *fakeBus
	err error
}

func (d *recordingDelay) Delay(_ context.Context, wait time.Duration) error {
	d.bus.calls = append(d.bus.calls, busCall{op: "delay", wait: wait})
	return d.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestDevice(bus *fakeBus, opts ...Option) (*Device, error) {
	base := []Option{WithDelay(&recordingDelay{bus: bus}), WithLogger(quietLogger())}
	return New(bus, append(base, opts...)...)
}
