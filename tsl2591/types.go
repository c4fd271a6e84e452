package tsl2591

import (
	"fmt"
	"strings"
	"time"
)

// IntegrationTime is the ALS integration period. Its value is the 3-bit
// CONTROL register encoding.
type IntegrationTime uint8

// Constants for adjusting the sensor integration timing
const (
	IntegrationTime100MS IntegrationTime = 0x00 // 100 millis
	IntegrationTime200MS IntegrationTime = 0x01 // 200 millis
	IntegrationTime300MS IntegrationTime = 0x02 // 300 millis
	IntegrationTime400MS IntegrationTime = 0x03 // 400 millis
	IntegrationTime500MS IntegrationTime = 0x04 // 500 millis
	IntegrationTime600MS IntegrationTime = 0x05 // 600 millis
)

// IntegrationTimes returns every integration time, shortest first.
func IntegrationTimes() []IntegrationTime {
	return []IntegrationTime{
		IntegrationTime100MS,
		IntegrationTime200MS,
		IntegrationTime300MS,
		IntegrationTime400MS,
		IntegrationTime500MS,
		IntegrationTime600MS,
	}
}

// Valid reports whether t is one of the six supported encodings.
func (t IntegrationTime) Valid() bool {
	return t <= IntegrationTime600MS
}

// Millis returns the integration period in milliseconds.
func (t IntegrationTime) Millis() uint32 {
	switch t {
	case IntegrationTime100MS:
		return 100
	case IntegrationTime200MS:
		return 200
	case IntegrationTime300MS:
		return 300
	case IntegrationTime400MS:
		return 400
	case IntegrationTime500MS:
		return 500
	case IntegrationTime600MS:
		return 600
	default:
		return 0
	}
}

func (t IntegrationTime) Duration() time.Duration {
	return time.Duration(t.Millis()) * time.Millisecond
}

func (t IntegrationTime) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	return fmt.Sprintf("%dms", t.Millis())
}

// ParseIntegrationTime accepts "300ms" or "300".
func ParseIntegrationTime(s string) (IntegrationTime, error) {
	v := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "ms")
	for _, t := range IntegrationTimes() {
		if v == fmt.Sprintf("%d", t.Millis()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidIntegrationTime, s)
}

// Gain is the sensor's analog gain. Its value is the CONTROL register
// encoding (bits 4-5).
type Gain uint8

// Constants for adjusting the sensor gain
const (
	GainLow  Gain = 0x00 // low gain (1x)
	GainMed  Gain = 0x10 // medium gain (25x)
	GainHigh Gain = 0x20 // high gain (428x)
	GainMax  Gain = 0x30 // max gain (9876x)
)

// Gains returns every gain setting, least sensitive first.
func Gains() []Gain {
	return []Gain{GainLow, GainMed, GainHigh, GainMax}
}

func (g Gain) Valid() bool {
	switch g {
	case GainLow, GainMed, GainHigh, GainMax:
		return true
	default:
		return false
	}
}

// Multiplier returns the calibrated sensitivity factor for the gain.
func (g Gain) Multiplier() uint32 {
	switch g {
	case GainLow:
		return 1
	case GainMed:
		return 25
	case GainHigh:
		return 428
	case GainMax:
		return 9876
	default:
		return 0
	}
}

func (g Gain) String() string {
	switch g {
	case GainLow:
		return "Low gain (1x)"
	case GainMed:
		return "Medium gain (25x)"
	case GainHigh:
		return "High gain (428x)"
	case GainMax:
		return "Max gain (9876x)"
	default:
		return "Unknown"
	}
}

// ParseGain accepts low, med, medium, high or max.
func ParseGain(s string) (Gain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1", "1x":
		return GainLow, nil
	case "med", "medium", "25", "25x":
		return GainMed, nil
	case "high", "428", "428x":
		return GainHigh, nil
	case "max", "9876", "9876x":
		return GainMax, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidGain, s)
}

// Mode selects which projection of the two channels a luminosity read returns.
type Mode uint8

const (
	FullSpectrum Mode = iota // channel 0
	Infrared                 // channel 1
	Visible                  // channel 0 - channel 1
)

func (m Mode) String() string {
	switch m {
	case FullSpectrum:
		return "full_spectrum"
	case Infrared:
		return "infrared"
	case Visible:
		return "visible"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "full_spectrum", "fullspectrum", "":
		return FullSpectrum, nil
	case "ir", "infrared":
		return Infrared, nil
	case "visible":
		return Visible, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
