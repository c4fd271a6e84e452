package sunlightmeter

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/tsl2591"
)

// ReadingResponse is a single on-demand acquisition.
type ReadingResponse struct {
	Mode          string  `json:"mode"`
	Value         uint16  `json:"value"`
	Ch0           uint16  `json:"ch0"`
	Ch1           uint16  `json:"ch1"`
	Converter     string  `json:"converter"`
	Lux           float64 `json:"lux"`
	NanoLux       int64   `json:"nanoLux"`
	Gain          string  `json:"gain"`
	IntegrationMs uint32  `json:"integrationMs"`
}

// SensorStatus describes the sensor configuration and register state.
type SensorStatus struct {
	Connected     bool        `json:"connected"`
	Running       bool        `json:"running"`
	Gain          string      `json:"gain,omitempty"`
	IntegrationMs uint32      `json:"integrationMs,omitempty"`
	Enable        *EnableView `json:"enable,omitempty"`
	Status        *StatusView `json:"status,omitempty"`
}

type EnableView struct {
	Raw                       byte `json:"raw"`
	PowerOn                   bool `json:"powerOn"`
	ALSEnabled                bool `json:"alsEnabled"`
	ALSInterruptEnabled       bool `json:"alsInterruptEnabled"`
	SleepAfterInterrupt       bool `json:"sleepAfterInterrupt"`
	NoPersistInterruptEnabled bool `json:"noPersistInterruptEnabled"`
}

type StatusView struct {
	Raw                byte  `json:"raw"`
	ALSValid           bool  `json:"alsValid"`
	ALSInterrupt       bool  `json:"alsInterrupt"`
	NoPersistInterrupt uint8 `json:"noPersistInterrupt"`
}

// Take one reading and convert it. While a job is running the sensor is
// already powered, so the reading shares it instead of power cycling.
func (m *SLMeter) Reading() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil {
			ServeResponse(w, r, ErrNotConnected.Error(), http.StatusBadRequest)
			return
		}
		mode, err := tsl2591.ParseMode(r.URL.Query().Get("mode"))
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		conv := m.converter()
		convName := r.URL.Query().Get("converter")
		if convName != "" {
			if conv, err = tsl2591.ParseConverter(convName); err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			convName = converterName(conv)
		}

		reading, err := m.acquire(r.Context())
		if err != nil {
			log.WithError(err).Error("Failed to read the sensor")
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}
		value, err := tsl2591.Project(mode, reading.Ch0, reading.Ch1)
		if err != nil {
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}
		lux, err := conv.Lux(reading.Timing, reading.Gain, reading.Ch0, reading.Ch1)
		if err != nil {
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}
		nanoLux, err := conv.NanoLux(reading.Timing, reading.Gain, reading.Ch0, reading.Ch1)
		if err != nil {
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}

		serveJSON(w, ReadingResponse{
			Mode:          mode.String(),
			Value:         value,
			Ch0:           reading.Ch0,
			Ch1:           reading.Ch1,
			Converter:     convName,
			Lux:           lux,
			NanoLux:       nanoLux,
			Gain:          reading.Gain.String(),
			IntegrationMs: reading.Timing.Millis(),
		}, http.StatusOK)
	}
}

func (m *SLMeter) acquire(ctx context.Context) (tsl2591.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return m.Sensor.SingleShot(ctx)
	}
	ch0, ch1, err := m.Sensor.ChannelData(ctx)
	if err != nil {
		return tsl2591.Reading{}, err
	}
	return tsl2591.Reading{Ch0: ch0, Ch1: ch1, Timing: m.Sensor.IntegrationTime(), Gain: m.Sensor.Gain()}, nil
}

func converterName(c tsl2591.Converter) string {
	switch c.(type) {
	case tsl2591.Simple:
		return "simple"
	case tsl2591.Yocto:
		return "yocto"
	default:
		return "adafruit"
	}
}

// Report the sensor configuration and its ENABLE and STATUS registers
func (m *SLMeter) SensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := m.sensorStatus()
		if err != nil {
			log.WithError(err).Error("Failed to read sensor registers")
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}
		serveJSON(w, status, http.StatusOK)
	}
}

func (m *SLMeter) sensorStatus() (SensorStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := SensorStatus{Connected: m.Sensor != nil, Running: m.running}
	if m.Sensor == nil {
		return status, nil
	}
	status.Gain = m.Sensor.Gain().String()
	status.IntegrationMs = m.Sensor.IntegrationTime().Millis()

	en, err := m.Sensor.EnableRegister()
	if err != nil {
		return status, err
	}
	st, err := m.Sensor.StatusRegister()
	if err != nil {
		return status, err
	}
	status.Enable = &EnableView{
		Raw:                       en.Raw(),
		PowerOn:                   en.PowerOn(),
		ALSEnabled:                en.ALSEnabled(),
		ALSInterruptEnabled:       en.ALSInterruptEnabled(),
		SleepAfterInterrupt:       en.SleepAfterInterrupt(),
		NoPersistInterruptEnabled: en.NoPersistInterruptEnabled(),
	}
	status.Status = &StatusView{
		Raw:                st.Raw(),
		ALSValid:           st.ALSValid(),
		ALSInterrupt:       st.ALSInterrupt(),
		NoPersistInterrupt: st.NoPersistInterrupt(),
	}
	return status, nil
}

// Change the gain and/or integration time. Either form value may be omitted.
func (m *SLMeter) Configure() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil {
			ServeResponse(w, r, ErrNotConnected.Error(), http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		gainValue, timingValue := r.FormValue("gain"), r.FormValue("timing")
		if gainValue == "" && timingValue == "" {
			ServeResponse(w, r, "Nothing to configure, set gain or timing", http.StatusBadRequest)
			return
		}

		// Parse both before writing either so a bad request changes nothing.
		var (
			gain   tsl2591.Gain
			timing tsl2591.IntegrationTime
			err    error
		)
		if gainValue != "" {
			if gain, err = tsl2591.ParseGain(gainValue); err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if timingValue != "" {
			if timing, err = tsl2591.ParseIntegrationTime(timingValue); err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
		}

		m.mu.Lock()
		if gainValue != "" {
			err = m.Sensor.SetGain(gain)
		}
		if err == nil && timingValue != "" {
			err = m.Sensor.SetTiming(timing)
		}
		gain, timing = m.Sensor.Gain(), m.Sensor.IntegrationTime()
		m.mu.Unlock()

		if err != nil {
			log.WithError(err).Error("Failed to configure the sensor")
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}
		log.WithFields(log.Fields{"gain": gain.String(), "timing": timing.String()}).Info("Sensor configured")
		ServeResponse(w, r, "Sensor configured: "+gain.String()+", "+timing.String(), http.StatusOK)
	}
}
