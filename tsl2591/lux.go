package tsl2591

import (
	"fmt"
	"math"
	"strings"
)

// Converter turns a raw channel pair into illuminance. There are a few ways
// to do this and callers may want to swap them out.
type Converter interface {
	// NanoLux returns illuminance in units of 1e-9 lux.
	NanoLux(t IntegrationTime, g Gain, ch0, ch1 uint16) (int64, error)
	Lux(t IntegrationTime, g Gain, ch0, ch1 uint16) (float64, error)
}

// DefaultConverter is used by CalculateLux, CalculateNanoLux and new devices.
var DefaultConverter Converter = Adafruit{}

// CalculateLux converts with DefaultConverter.
func CalculateLux(t IntegrationTime, g Gain, ch0, ch1 uint16) (float64, error) {
	return DefaultConverter.Lux(t, g, ch0, ch1)
}

// CalculateNanoLux converts with DefaultConverter.
func CalculateNanoLux(t IntegrationTime, g Gain, ch0, ch1 uint16) (int64, error) {
	return DefaultConverter.NanoLux(t, g, ch0, ch1)
}

func NanoToLux(n int64) float64 {
	return float64(n) / float64(nano)
}

// ParseConverter maps adafruit, simple or yocto to a Converter.
func ParseConverter(name string) (Converter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "adafruit":
		return Adafruit{}, nil
	case "simple":
		return Simple{}, nil
	case "yocto":
		return Yocto{}, nil
	}
	return nil, fmt.Errorf("tsl2591: unknown converter %q", name)
}

// CheckOverflow reports whether either channel reached the saturation
// threshold for the integration time.
func CheckOverflow(t IntegrationTime, ch0, ch1 uint16) bool {
	limit := overflowOther
	if t == IntegrationTime100MS {
		limit = overflow100MS
	}
	return ch0 >= limit || ch1 >= limit
}

// CountsPerLux is (integration ms * gain multiplier) / LuxDF.
func CountsPerLux(t IntegrationTime, g Gain) float64 {
	return float64(t.Millis()) * float64(g.Multiplier()) / LuxDF
}

// checkInputs runs the overflow check first, then rejects unknown settings.
func checkInputs(t IntegrationTime, g Gain, ch0, ch1 uint16) error {
	if CheckOverflow(t, ch0, ch1) {
		return fmt.Errorf("%w: ch0=%d ch1=%d at %s", ErrSignalOverflow, ch0, ch1, t)
	}
	if !t.Valid() {
		return ErrInvalidIntegrationTime
	}
	if !g.Valid() {
		return ErrInvalidGain
	}
	return nil
}

// Adafruit is the two-term formula from the Adafruit Python library. The
// larger of the two candidates wins; negative results are clamped to 0.
type Adafruit struct{}

func (Adafruit) Lux(t IntegrationTime, g Gain, ch0, ch1 uint16) (float64, error) {
	if err := checkInputs(t, g, ch0, ch1); err != nil {
		return 0, err
	}
	cpl := CountsPerLux(t, g)
	if cpl == 0 {
		return 0, ErrZeroCountsPerLux
	}
	c0, c1 := float64(ch0), float64(ch1)
	lux1 := (c0 - LuxCoefB*c1) / cpl
	lux2 := (LuxCoefC*c0 - LuxCoefD*c1) / cpl
	return math.Max(0, math.Max(lux1, lux2)), nil
}

// NanoLux computes the same formula in scaled integers. CPL is kept as the
// ratio denom/LuxDF so no intermediate leaves int64 range.
func (Adafruit) NanoLux(t IntegrationTime, g Gain, ch0, ch1 uint16) (int64, error) {
	if err := checkInputs(t, g, ch0, ch1); err != nil {
		return 0, err
	}
	denom := int64(t.Millis()) * int64(g.Multiplier())
	if denom == 0 {
		return 0, ErrZeroCountsPerLux
	}
	c0, c1 := int64(ch0), int64(ch1)
	lux1 := (c0*nano - luxCoefBNano*c1) * luxDFInt / denom
	lux2 := (luxCoefCNano*c0 - luxCoefDNano*c1) * luxDFInt / denom
	return max(0, lux1, lux2), nil
}

// Simple is lux = (ch0 - ch1) * (1 - ch1/ch0) / CPL. A dark full spectrum
// channel (ch0 == 0) or infrared above full spectrum reads as 0 lux.
type Simple struct{}

func (Simple) Lux(t IntegrationTime, g Gain, ch0, ch1 uint16) (float64, error) {
	if err := checkInputs(t, g, ch0, ch1); err != nil {
		return 0, err
	}
	cpl := CountsPerLux(t, g)
	if cpl == 0 {
		return 0, ErrZeroCountsPerLux
	}
	if ch0 == 0 || ch1 > ch0 {
		return 0, nil
	}
	c0, c1 := float64(ch0), float64(ch1)
	return (c0 - c1) * (1.0 - c1/c0) / cpl, nil
}

func (s Simple) NanoLux(t IntegrationTime, g Gain, ch0, ch1 uint16) (int64, error) {
	lux, err := s.Lux(t, g, ch0, ch1)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(lux * float64(nano))), nil
}

// Yocto derives illuminance from channel 0 and the gain alone, after
// https://www.yoctopuce.com/EN/article/yocto-i2c-and-tsl2591. It only
// answers inside the range each gain was characterised for.
type Yocto struct{}

var yoctoNanoPerCount = map[Gain]int64{
	GainLow:  1_000_000,
	GainMed:  25_000_000,
	GainHigh: 428_000_000,
	GainMax:  9_876_000_000,
}

const (
	yoctoMinNano = 50 * nano
	yoctoMaxNano = 37_000 * nano
)

func (Yocto) NanoLux(t IntegrationTime, g Gain, ch0, ch1 uint16) (int64, error) {
	if err := checkInputs(t, g, ch0, ch1); err != nil {
		return 0, err
	}
	n := int64(ch0) * yoctoNanoPerCount[g]
	if n == 0 || (g != GainMax && n < yoctoMinNano) || (g != GainLow && n > yoctoMaxNano) {
		return 0, fmt.Errorf("%w: %d nlx at %s", ErrOutOfRange, n, g)
	}
	return n, nil
}

func (y Yocto) Lux(t IntegrationTime, g Gain, ch0, ch1 uint16) (float64, error) {
	n, err := y.NanoLux(t, g, ch0, ch1)
	if err != nil {
		return 0, err
	}
	return NanoToLux(n), nil
}

// NormalizedOutput returns a channel projection as a fraction of full scale.
func NormalizedOutput(mode Mode, ch0, ch1 uint16) float64 {
	switch mode {
	case Visible:
		visible := float64(ch0) - float64(ch1)
		if visible < 0 {
			visible = 0
		}
		return visible / 0xFFFF
	case Infrared:
		return float64(ch1) / 0xFFFF
	case FullSpectrum:
		return float64(ch0) / 0xFFFF
	default:
		return 0
	}
}
