package tsl2591

import (
	"errors"
	"fmt"
)

var (
	ErrSignalOverflow         = errors.New("tsl2591: signal overflow")
	ErrInfraredOverflow       = errors.New("tsl2591: infrared exceeds full spectrum")
	ErrZeroCountsPerLux       = errors.New("tsl2591: counts per lux is zero")
	ErrOutOfRange             = errors.New("tsl2591: reading outside converter range")
	ErrInvalidGain            = errors.New("tsl2591: invalid gain")
	ErrInvalidIntegrationTime = errors.New("tsl2591: invalid integration time")
	ErrInvalidMode            = errors.New("tsl2591: invalid mode")
	ErrAllSettingsSaturated   = errors.New("tsl2591: all gain options are saturated")
)

// TransportError is returned for any failed bus transaction. It wraps the
// transport's own error untouched.
type TransportError struct {
	Op       string // "write" or "read"
	Register byte
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tsl2591: %s register 0x%02X: %v", e.Op, e.Register, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IDMismatchError is returned by New when the identity register does not
// hold DeviceID.
type IDMismatchError struct {
	ID byte
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("tsl2591: unexpected device id 0x%02X, want 0x%02X", e.ID, DeviceID)
}
