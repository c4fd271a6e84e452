package sunlightmeter

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/tsl2591"
)

//go:embed html/*
var templateFiles embed.FS

// Sensor is the part of *tsl2591.Device the meter drives.
type Sensor interface {
	Enable() error
	Disable() error
	ChannelData(ctx context.Context) (uint16, uint16, error)
	CalculateLux(ch0, ch1 uint16) (float64, error)
	SetOptimalGain(ctx context.Context) error
	SetGain(gain tsl2591.Gain) error
	SetTiming(timing tsl2591.IntegrationTime) error
	Gain() tsl2591.Gain
	IntegrationTime() tsl2591.IntegrationTime
	SingleShot(ctx context.Context) (tsl2591.Reading, error)
	EnableRegister() (tsl2591.Enable, error)
	StatusRegister() (tsl2591.Status, error)
}

var (
	ErrNotConnected   = errors.New("The sensor is not connected")
	ErrAlreadyRunning = errors.New("The sensor is already started")
	ErrNotRunning     = errors.New("The sensor is already stopped")
)

// SLMeter records sunlight readings from a Sensor into sqlite and serves
// them over HTTP. The zero value of the unexported fields is ready to use.
type SLMeter struct {
	Sensor         Sensor
	Converter      tsl2591.Converter
	LuxResultsChan chan LuxResults
	ResultsDB      *sql.DB
	DBPath         string
	Location       *time.Location
	RecordInterval time.Duration
	MaxJobDuration time.Duration
	Clock          clock.Clock
	Pid            int

	// mu serialises sensor access and guards the job state below.
	mu      sync.Mutex
	running bool
	jobID   string
	cancel  context.CancelFunc
	done    chan struct{}
}

type LuxResults struct {
	Lux           float64
	Infrared      float64
	Visible       float64
	FullSpectrum  float64
	Gain          string
	IntegrationMs uint32
	JobID         string
}

type Conditions struct {
	JobID                 string  `json:"jobID"`
	Lux                   float64 `json:"lux"`
	FullSpectrum          float64 `json:"fullSpectrum"`
	Visible               float64 `json:"visible"`
	Infrared              float64 `json:"infrared"`
	Gain                  string  `json:"gain"`
	IntegrationMs         uint32  `json:"integrationMs"`
	DateRange             string  `json:"dateRange"`
	RecordedHoursInRange  float64 `json:"recordedHoursInRange"`
	FullSunlightInRange   float64 `json:"fullSunlightInRange"`
	LightConditionInRange string  `json:"lightConditionInRange"`
	AverageLuxInRange     float64 `json:"averageLuxInRange"`
	MedianLuxInRange      float64 `json:"medianLuxInRange"`
	PeakLuxInRange        float64 `json:"peakLuxInRange"`
}

const (
	MAX_JOB_DURATION = 8 * time.Hour
	RECORD_INTERVAL  = 30 * time.Second
	DB_PATH          = "sunlightmeter.db"
)

func (m *SLMeter) clock() clock.Clock {
	if m.Clock == nil {
		return clock.New()
	}
	return m.Clock
}

func (m *SLMeter) converter() tsl2591.Converter {
	if m.Converter == nil {
		return tsl2591.DefaultConverter
	}
	return m.Converter
}

func (m *SLMeter) recordInterval() time.Duration {
	if m.RecordInterval <= 0 {
		return RECORD_INTERVAL
	}
	return m.RecordInterval
}

func (m *SLMeter) maxJobDuration() time.Duration {
	if m.MaxJobDuration <= 0 {
		return MAX_JOB_DURATION
	}
	return m.MaxJobDuration
}

// Running reports whether a measurement job is active.
func (m *SLMeter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// StartJob enables the sensor and starts recording in the background until
// StopJob is called or the maximum job duration passes.
func (m *SLMeter) StartJob() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Sensor == nil {
		return "", ErrNotConnected
	} else if m.running {
		return "", ErrAlreadyRunning
	}
	if err := m.Sensor.Enable(); err != nil {
		return "", err
	}

	// Create a new context with a timeout to manage the sensor lifecycle
	ctx, cancel := context.WithTimeout(context.Background(), m.maxJobDuration())
	jobID := uuid.New().String()
	done := make(chan struct{})
	m.running, m.jobID, m.cancel, m.done = true, jobID, cancel, done

	go func() {
		defer close(done)
		defer m.finishJob(cancel)
		m.runJob(ctx, jobID)
	}()
	log.WithField("job_id", jobID).Info("It's going to be a bright day!")
	return jobID, nil
}

// StopJob cancels the running job and waits for the sensor to be disabled.
func (m *SLMeter) StopJob() error {
	m.mu.Lock()
	if m.Sensor == nil {
		m.mu.Unlock()
		return ErrNotConnected
	} else if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Shutdown stops any running job. It is a no-op when idle.
func (m *SLMeter) Shutdown() error {
	err := m.StopJob()
	if errors.Is(err, ErrNotRunning) || errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (m *SLMeter) finishJob(cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Sensor.Disable(); err != nil {
		log.WithError(err).Error("Failed to disable the sensor")
	}
	log.WithField("job_id", m.jobID).Info("Job finished, sensor stopped")
	m.running, m.jobID, m.cancel, m.done = false, "", nil, nil
}

func (m *SLMeter) runJob(ctx context.Context, jobID string) {
	ticker := m.clock().Ticker(m.recordInterval())
	defer ticker.Stop()
	for {
		if result, ok := m.takeReading(ctx, jobID); ok {
			select {
			case m.LuxResultsChan <- result:
			case <-ctx.Done():
				return
			}
		}

		// Check if we've cancelled this job.
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// takeReading acquires and converts one sample. On saturation the sensor is
// re-ranged and the sample is dropped.
func (m *SLMeter) takeReading(ctx context.Context, jobID string) (LuxResults, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger := log.WithField("job_id", jobID)

	ch0, ch1, err := m.Sensor.ChannelData(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).Error("The sensor failed to get luminosity")
		}
		return LuxResults{}, false
	}

	lux, err := m.Sensor.CalculateLux(ch0, ch1)
	if err != nil {
		logger.WithError(err).Warn("The sensor failed to calculate lux")
		if errors.Is(err, tsl2591.ErrSignalOverflow) {
			logger.Info("Attempting to set new optimal sensor gain")
			if err := m.Sensor.SetOptimalGain(ctx); err != nil {
				logger.WithError(err).Error("The sensor failed to determine new optimal gain")
			} else {
				logger.WithFields(log.Fields{
					"gain":   m.Sensor.Gain().String(),
					"timing": m.Sensor.IntegrationTime().String(),
				}).Info("The sensor has been reconfigured with a new optimal gain")
			}
		}
		return LuxResults{}, false
	}

	return LuxResults{
		Lux:           lux,
		Visible:       tsl2591.NormalizedOutput(tsl2591.Visible, ch0, ch1),
		Infrared:      tsl2591.NormalizedOutput(tsl2591.Infrared, ch0, ch1),
		FullSpectrum:  tsl2591.NormalizedOutput(tsl2591.FullSpectrum, ch0, ch1),
		Gain:          m.Sensor.Gain().String(),
		IntegrationMs: m.Sensor.IntegrationTime().Millis(),
		JobID:         jobID,
	}, true
}

// Read from LuxResultsChan, write the results to sqlite
func (m *SLMeter) MonitorAndRecordResults(ctx context.Context) error {
	log.Info("Monitoring for new Sunlight Messages...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-m.LuxResultsChan:
			m.recordResult(result)
		}
	}
}

func (m *SLMeter) recordResult(result LuxResults) {
	logger := log.WithFields(log.Fields{"job_id": result.JobID, "lux": result.Lux})
	if math.IsInf(result.Lux, 0) || math.IsNaN(result.Lux) {
		logger.Warn("Lux is invalid, skipping record")
		return
	}
	logger.Debug("Recording result")
	_, err := m.ResultsDB.Exec(
		"INSERT INTO sunlight (job_id, lux, full_spectrum, visible, infrared, gain, integration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		result.JobID,
		result.Lux,
		result.FullSpectrum,
		result.Visible,
		result.Infrared,
		result.Gain,
		result.IntegrationMs,
	)
	if err != nil {
		logger.WithError(err).Error("Failed to record result")
	}
}

// Start the sensor, and collect data in a loop
func (m *SLMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := m.StartJob()
		if err != nil {
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}
		ServeResponse(w, r, "Sunlight Reading Started", http.StatusOK)
	}
}

// Stop the sensor, and cancel the job context
func (m *SLMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.StopJob(); err != nil {
			ServeResponse(w, r, err.Error(), statusFor(err))
			return
		}
		ServeResponse(w, r, "Sunlight Reading Stopped", http.StatusOK)
	}
}

// Serve data about the most recent entry saved to the db
func (m *SLMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil {
			ServeResponse(w, r, ErrNotConnected.Error(), http.StatusBadRequest)
			return
		} else if !m.Running() {
			ServeResponse(w, r, "The sensor is not enabled", http.StatusBadRequest)
			return
		}
		conditions, err := m.getCurrentConditions()
		if errors.Is(err, sql.ErrNoRows) {
			ServeResponse(w, r, "No readings recorded yet", http.StatusNotFound)
			return
		} else if err != nil {
			log.WithError(err).Error("Failed to load current conditions")
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}

		if isAPI(r) {
			serveJSON(w, conditions, http.StatusOK)
			return
		}
		conditionsData, err := json.Marshal(conditions)
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, string(conditionsData), http.StatusOK)
	}
}

// Return the most recent entry saved to the db
func (m *SLMeter) getCurrentConditions() (Conditions, error) {
	if m.Sensor == nil || !m.Running() {
		return Conditions{}, nil
	}
	conditions := Conditions{}
	row := m.ResultsDB.QueryRow("SELECT job_id, lux, full_spectrum, visible, infrared, gain, integration_ms FROM sunlight ORDER BY id DESC LIMIT 1")
	err := row.Scan(&conditions.JobID, &conditions.Lux, &conditions.FullSpectrum, &conditions.Visible,
		&conditions.Infrared, &conditions.Gain, &conditions.IntegrationMs)
	if err != nil {
		return Conditions{}, err
	}
	return conditions, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotRunning):
		return http.StatusBadRequest
	case errors.Is(err, tsl2591.ErrInvalidGain), errors.Is(err, tsl2591.ErrInvalidIntegrationTime),
		errors.Is(err, tsl2591.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, tsl2591.ErrSignalOverflow), errors.Is(err, tsl2591.ErrInfraredOverflow),
		errors.Is(err, tsl2591.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isAPI(r *http.Request) bool {
	return strings.Contains(r.URL.Path, "/api/v1/")
}

// Populate the response div with a message, or reply with a JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	if isAPI(r) {
		serveJSON(w, map[string]string{"message": message}, status)
		return
	}

	tmpl, err := parseTemplateFile("html/response.gohtml")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, message); err != nil {
		log.WithError(err).Error("Failed to render response")
	}
}

func serveJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func parseTemplateFile(path string) (*template.Template, error) {
	tmpl, err := template.ParseFS(templateFiles, path)
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}
