package tsl2591

import "fmt"

// Enable is a snapshot of the ENABLE register.
type Enable byte

func (e Enable) Raw() byte { return byte(e) }

// PowerOn reports PON, the oscillator power.
func (e Enable) PowerOn() bool { return e&0x01 != 0 }

// ALSEnabled reports AEN.
func (e Enable) ALSEnabled() bool { return e&0x02 != 0 }

// ALSInterruptEnabled reports AIEN.
func (e Enable) ALSInterruptEnabled() bool { return e&0x10 != 0 }

// SleepAfterInterrupt reports SAI.
func (e Enable) SleepAfterInterrupt() bool { return e&0x40 != 0 }

// NoPersistInterruptEnabled reports NPIEN.
func (e Enable) NoPersistInterruptEnabled() bool { return e&0x80 != 0 }

func (e Enable) String() string {
	return fmt.Sprintf("Enable{PON:%t AEN:%t AIEN:%t SAI:%t NPIEN:%t}",
		e.PowerOn(), e.ALSEnabled(), e.ALSInterruptEnabled(), e.SleepAfterInterrupt(), e.NoPersistInterruptEnabled())
}

// Status is a snapshot of the STATUS register.
type Status byte

func (s Status) Raw() byte { return byte(s) }

// ALSValid is set once an integration cycle has completed since AEN was asserted.
func (s Status) ALSValid() bool { return s&0x01 != 0 }

// ALSInterrupt reports AINT.
func (s Status) ALSInterrupt() bool { return s&0x10 != 0 }

// NoPersistInterrupt returns the NPINTR field, bits 4 through 6.
func (s Status) NoPersistInterrupt() uint8 { return uint8(s>>4) & 0x07 }

func (s Status) String() string {
	return fmt.Sprintf("Status{AVALID:%t AINT:%t NPINTR:%d}", s.ALSValid(), s.ALSInterrupt(), s.NoPersistInterrupt())
}
