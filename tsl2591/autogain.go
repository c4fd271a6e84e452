package tsl2591

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SetOptimalGain searches for a usable configuration. Gains are tried from
// least to most sensitive, each with the longest integration time first.
// The first setting whose reading does not saturate and converts to a
// non-zero lux is kept. If none qualifies the device is left at low gain,
// 600ms and ErrAllSettingsSaturated is returned.
//
// The sensor must already be enabled. Bus errors end the search.
func (tsl *Device) SetOptimalGain(ctx context.Context) error {
	times := IntegrationTimes()
	for _, gain := range Gains() {
		if err := tsl.SetGain(gain); err != nil {
			return err
		}
		for i := len(times) - 1; i >= 0; i-- {
			timing := times[i]
			if err := tsl.SetTiming(timing); err != nil {
				return err
			}
			fields := logrus.Fields{"gain": gain.String(), "timing": timing.String()}
			tsl.log.WithFields(fields).Debug("Attempting sensor configuration")

			ch0, ch1, err := tsl.ChannelData(ctx)
			if err != nil {
				return err
			}
			lux, err := tsl.CalculateLux(ch0, ch1)
			if err != nil || lux == 0 {
				continue
			}
			tsl.log.WithFields(fields).Debug("Set sensor configuration")
			return nil
		}
	}

	if err := tsl.SetGain(GainLow); err != nil {
		return err
	}
	if err := tsl.SetTiming(IntegrationTime600MS); err != nil {
		return err
	}
	return ErrAllSettingsSaturated
}
