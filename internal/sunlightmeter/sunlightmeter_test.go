package sunlightmeter

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/lux-meter/internal/tools"
	"github.com/ztkent/lux-meter/tsl2591"
)

type fakeSensor struct {
	mu           sync.Mutex
	enabled      bool
	disables     int
	singleShots  int
	optimalCalls int
	gain         tsl2591.Gain
	timing       tsl2591.IntegrationTime
	ch0, ch1     uint16
	readErr      error
	setErr       error
	enableReg    tsl2591.Enable
	statusReg    tsl2591.Status
}

var _ Sensor = (*fakeSensor)(nil)
var _ Sensor = (*tsl2591.Device)(nil)

func (f *fakeSensor) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	return nil
}

func (f *fakeSensor) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	f.disables++
	return nil
}

func (f *fakeSensor) ChannelData(ctx context.Context) (uint16, uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch0, f.ch1, f.readErr
}

func (f *fakeSensor) CalculateLux(ch0, ch1 uint16) (float64, error) {
	return tsl2591.Adafruit{}.Lux(f.IntegrationTime(), f.Gain(), ch0, ch1)
}

// SetOptimalGain pretends the sensor found a usable range.
func (f *fakeSensor) SetOptimalGain(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optimalCalls++
	f.gain, f.timing = tsl2591.GainLow, tsl2591.IntegrationTime100MS
	f.ch0, f.ch1 = 1000, 500
	return nil
}

func (f *fakeSensor) SetGain(g tsl2591.Gain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.gain = g
	return nil
}

func (f *fakeSensor) SetTiming(t tsl2591.IntegrationTime) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.timing = t
	return nil
}

func (f *fakeSensor) Gain() tsl2591.Gain {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain
}

func (f *fakeSensor) IntegrationTime() tsl2591.IntegrationTime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timing
}

func (f *fakeSensor) SingleShot(ctx context.Context) (tsl2591.Reading, error) {
	f.mu.Lock()
	f.singleShots++
	f.mu.Unlock()
	ch0, ch1, err := f.ChannelData(ctx)
	if err != nil {
		return tsl2591.Reading{}, err
	}
	return tsl2591.Reading{Ch0: ch0, Ch1: ch1, Timing: f.IntegrationTime(), Gain: f.Gain()}, nil
}

func (f *fakeSensor) EnableRegister() (tsl2591.Enable, error) { return f.enableReg, nil }
func (f *fakeSensor) StatusRegister() (tsl2591.Status, error) { return f.statusReg, nil }

type sensorState struct {
	enabled      bool
	disables     int
	singleShots  int
	optimalCalls int
}

func (f *fakeSensor) snapshot() sensorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sensorState{enabled: f.enabled, disables: f.disables, singleShots: f.singleShots, optimalCalls: f.optimalCalls}
}

func newTestMeter(t *testing.T, sensor Sensor) (*SLMeter, *clock.Mock) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sunlightmeter.db")
	db, err := tools.ConnectSqlite(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock := clock.NewMock()
	return &SLMeter{
		Sensor:         sensor,
		LuxResultsChan: make(chan LuxResults),
		ResultsDB:      db,
		DBPath:         path,
		Location:       time.UTC,
		RecordInterval: time.Second,
		Clock:          mock,
	}, mock
}

func do(h http.HandlerFunc, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["message"]
}

func receive(t *testing.T, ch <-chan LuxResults) LuxResults {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no result received")
		return LuxResults{}
	}
}

func TestStartAndStopJob(t *testing.T) {
	sensor := &fakeSensor{ch0: 1000, ch1: 500, timing: tsl2591.IntegrationTime100MS}
	m, _ := newTestMeter(t, sensor)

	rec := do(m.Start(), http.MethodGet, "/api/v1/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sunlight Reading Started", message(t, rec))
	assert.True(t, m.Running())
	assert.True(t, sensor.snapshot().enabled)

	rec = do(m.Start(), http.MethodGet, "/api/v1/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrAlreadyRunning.Error(), message(t, rec))

	result := receive(t, m.LuxResultsChan)
	assert.InDelta(t, 734.4, result.Lux, 1e-9)
	assert.Equal(t, "Low gain (1x)", result.Gain)
	assert.Equal(t, uint32(100), result.IntegrationMs)
	assert.NotEmpty(t, result.JobID)
	assert.InDelta(t, 500.0/0xFFFF, result.Visible, 1e-12)

	rec = do(m.Stop(), http.MethodGet, "/api/v1/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, m.Running())
	snap := sensor.snapshot()
	assert.False(t, snap.enabled)
	assert.Equal(t, 1, snap.disables)

	rec = do(m.Stop(), http.MethodGet, "/api/v1/stop", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, m.Shutdown())
}

func TestJobRecordsOnEveryTick(t *testing.T) {
	sensor := &fakeSensor{ch0: 1000, ch1: 500, timing: tsl2591.IntegrationTime100MS}
	m, mock := newTestMeter(t, sensor)

	first, err := m.StartJob()
	require.NoError(t, err)
	defer m.Shutdown()

	assert.Equal(t, first, receive(t, m.LuxResultsChan).JobID)
	mock.Add(time.Second)
	assert.Equal(t, first, receive(t, m.LuxResultsChan).JobID)
}

func TestJobReRangesOnOverflow(t *testing.T) {
	sensor := &fakeSensor{ch0: 65535, ch1: 65535, gain: tsl2591.GainMax, timing: tsl2591.IntegrationTime600MS}
	m, mock := newTestMeter(t, sensor)

	_, err := m.StartJob()
	require.NoError(t, err)
	defer m.Shutdown()

	require.Eventually(t, func() bool { return sensor.snapshot().optimalCalls == 1 }, 5*time.Second, 10*time.Millisecond)
	mock.Add(time.Second)

	result := receive(t, m.LuxResultsChan)
	assert.InDelta(t, 734.4, result.Lux, 1e-9)
	assert.Equal(t, 1, sensor.snapshot().optimalCalls)
}

func TestJobEndsAfterMaxDuration(t *testing.T) {
	sensor := &fakeSensor{readErr: errors.New("bus gone")}
	m, _ := newTestMeter(t, sensor)
	m.MaxJobDuration = 50 * time.Millisecond

	_, err := m.StartJob()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !m.Running() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, sensor.snapshot().disables)
}

func TestNoSensor(t *testing.T) {
	m, _ := newTestMeter(t, nil)

	for _, h := range []http.HandlerFunc{m.Start(), m.Stop(), m.CurrentConditions(), m.Reading(), m.Configure()} {
		rec := do(h, http.MethodGet, "/api/v1/anything", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ErrNotConnected.Error(), message(t, rec))
	}

	rec := do(m.SensorStatus(), http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status SensorStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Connected)
	assert.Nil(t, status.Enable)
	assert.NoError(t, m.Shutdown())
}

func TestMonitorAndRecordResults(t *testing.T) {
	m, _ := newTestMeter(t, &fakeSensor{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.MonitorAndRecordResults(ctx) }()

	m.LuxResultsChan <- LuxResults{JobID: "job-1", Lux: 42.5, Gain: "Low gain (1x)", IntegrationMs: 300}
	m.LuxResultsChan <- LuxResults{JobID: "job-1", Lux: math.Inf(1)}
	m.LuxResultsChan <- LuxResults{JobID: "job-1", Lux: 50}

	require.Eventually(t, func() bool {
		var n int
		return m.ResultsDB.QueryRow("SELECT COUNT(*) FROM sunlight").Scan(&n) == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)

	var lux float64
	var gain string
	var ms int
	require.NoError(t, m.ResultsDB.QueryRow("SELECT lux, gain, integration_ms FROM sunlight ORDER BY id LIMIT 1").Scan(&lux, &gain, &ms))
	assert.Equal(t, 42.5, lux)
	assert.Equal(t, "Low gain (1x)", gain)
	assert.Equal(t, 300, ms)

	cancel()
	assert.NoError(t, <-done)
}

func TestCurrentConditions(t *testing.T) {
	sensor := &fakeSensor{ch0: 1000, ch1: 500, timing: tsl2591.IntegrationTime100MS}
	m, _ := newTestMeter(t, sensor)

	rec := do(m.CurrentConditions(), http.MethodGet, "/api/v1/current-conditions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	jobID, err := m.StartJob()
	require.NoError(t, err)
	defer m.Shutdown()
	m.recordResult(receive(t, m.LuxResultsChan))

	rec = do(m.CurrentConditions(), http.MethodGet, "/api/v1/current-conditions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var conditions Conditions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conditions))
	assert.Equal(t, jobID, conditions.JobID)
	assert.InDelta(t, 734.4, conditions.Lux, 1e-9)
	assert.Equal(t, uint32(100), conditions.IntegrationMs)

	// The dashboard gets the same data rendered into the response div.
	rec = do(m.CurrentConditions(), http.MethodGet, "/sunlightmeter/current-conditions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), jobID)
}

func TestReading(t *testing.T) {
	sensor := &fakeSensor{ch0: 1000, ch1: 500, timing: tsl2591.IntegrationTime100MS}
	m, _ := newTestMeter(t, sensor)

	rec := do(m.Reading(), http.MethodGet, "/api/v1/reading?mode=visible", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reading ReadingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
	assert.Equal(t, "visible", reading.Mode)
	assert.Equal(t, uint16(500), reading.Value)
	assert.Equal(t, "adafruit", reading.Converter)
	assert.InDelta(t, 734.4, reading.Lux, 1e-9)
	assert.Equal(t, int64(734_400_000_000), reading.NanoLux)
	assert.Equal(t, 1, sensor.snapshot().singleShots)

	rec = do(m.Reading(), http.MethodGet, "/api/v1/reading?converter=simple", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
	assert.Equal(t, "full_spectrum", reading.Mode)
	assert.Equal(t, uint16(1000), reading.Value)
	assert.InDelta(t, 1020.0, reading.Lux, 1e-9)
}

func TestReadingErrors(t *testing.T) {
	sensor := &fakeSensor{ch0: 100, ch1: 200, timing: tsl2591.IntegrationTime100MS}
	m, _ := newTestMeter(t, sensor)

	rec := do(m.Reading(), http.MethodGet, "/api/v1/reading?mode=uv", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(m.Reading(), http.MethodGet, "/api/v1/reading?converter=guess", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, sensor.snapshot().singleShots, "bad requests never touch the sensor")

	rec = do(m.Reading(), http.MethodGet, "/api/v1/reading?mode=visible", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, message(t, rec), "infrared exceeds full spectrum")

	sensor.ch0, sensor.ch1 = 65535, 65535
	rec = do(m.Reading(), http.MethodGet, "/api/v1/reading", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, message(t, rec), "signal overflow")

	sensor.readErr = &tsl2591.TransportError{Op: "read", Register: tsl2591.RegChan0Low, Err: errors.New("nack")}
	rec = do(m.Reading(), http.MethodGet, "/api/v1/reading", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReadingSharesRunningJob(t *testing.T) {
	sensor := &fakeSensor{ch0: 1000, ch1: 500, timing: tsl2591.IntegrationTime100MS}
	m, _ := newTestMeter(t, sensor)
	_, err := m.StartJob()
	require.NoError(t, err)
	defer m.Shutdown()
	receive(t, m.LuxResultsChan)

	rec := do(m.Reading(), http.MethodGet, "/api/v1/reading", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := sensor.snapshot()
	assert.Zero(t, snap.singleShots)
	assert.True(t, snap.enabled, "the job's sensor stays powered")
}

func TestConfigure(t *testing.T) {
	sensor := &fakeSensor{}
	m, _ := newTestMeter(t, sensor)

	rec := do(m.Configure(), http.MethodPost, "/api/v1/config", url.Values{"gain": {"high"}, "timing": {"400ms"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tsl2591.GainHigh, sensor.Gain())
	assert.Equal(t, tsl2591.IntegrationTime400MS, sensor.IntegrationTime())

	rec = do(m.Configure(), http.MethodPost, "/api/v1/config", url.Values{"gain": {"low"}, "timing": {"250ms"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, tsl2591.GainHigh, sensor.Gain(), "a bad timing leaves the gain alone")

	rec = do(m.Configure(), http.MethodPost, "/api/v1/config", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sensor.setErr = &tsl2591.TransportError{Op: "write", Register: tsl2591.RegControl, Err: errors.New("nack")}
	rec = do(m.Configure(), http.MethodPost, "/api/v1/config", url.Values{"timing": {"100ms"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, tsl2591.IntegrationTime400MS, sensor.IntegrationTime())
}

func TestSensorStatus(t *testing.T) {
	sensor := &fakeSensor{gain: tsl2591.GainMed, timing: tsl2591.IntegrationTime300MS, enableReg: 0x93, statusReg: 0x11}
	m, _ := newTestMeter(t, sensor)

	rec := do(m.SensorStatus(), http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status SensorStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Connected)
	assert.False(t, status.Running)
	assert.Equal(t, "Medium gain (25x)", status.Gain)
	assert.Equal(t, uint32(300), status.IntegrationMs)
	require.NotNil(t, status.Enable)
	assert.True(t, status.Enable.PowerOn)
	assert.True(t, status.Enable.NoPersistInterruptEnabled)
	assert.False(t, status.Enable.SleepAfterInterrupt)
	require.NotNil(t, status.Status)
	assert.True(t, status.Status.ALSValid)
	assert.Equal(t, uint8(1), status.Status.NoPersistInterrupt)

	rec = do(m.ServeSensorStatus(), http.MethodGet, "/sunlightmeter/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Medium gain (25x), 300ms integration")
}

func insertAt(t *testing.T, m *SLMeter, createdAt string, lux float64) {
	t.Helper()
	_, err := m.ResultsDB.Exec("INSERT INTO sunlight (job_id, lux, created_at) VALUES (?, ?, ?)", "job", lux, createdAt)
	require.NoError(t, err)
}

func TestHistoricalConditions(t *testing.T) {
	m, _ := newTestMeter(t, &fakeSensor{})
	insertAt(t, m, "2024-07-01 12:00:00", 20000)
	insertAt(t, m, "2024-07-01 12:00:30", 30000)
	insertAt(t, m, "2024-07-01 12:01:00", 500)
	insertAt(t, m, "2024-07-01 13:00:00", 100)
	insertAt(t, m, "2024-07-03 13:00:00", 99999)

	c, err := m.getHistoricalConditions(Conditions{}, "2024-07-01 00:00:00", "2024-07-02 00:00:00")
	require.NoError(t, err)
	assert.InDelta(t, 12650.0, c.AverageLuxInRange, 1e-9)
	assert.InDelta(t, 10250.0, c.MedianLuxInRange, 1e-9)
	assert.InDelta(t, 30000.0, c.PeakLuxInRange, 1e-9)
	assert.InDelta(t, 1.0/60, c.FullSunlightInRange, 1e-9)
	assert.InDelta(t, 1.0, c.RecordedHoursInRange, 1e-9)
	assert.Equal(t, "Shade", c.LightConditionInRange)
	assert.Equal(t, "2024-07-01 00:00:00 - 2024-07-02 00:00:00 UTC", c.DateRange)

	c, err = m.getHistoricalConditions(Conditions{}, "2023-01-01 00:00:00", "2023-01-02 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, "No Data in Range", c.LightConditionInRange)
}

func TestLightCondition(t *testing.T) {
	assert.Equal(t, "Full Sun", lightCondition(6, 10))
	assert.Equal(t, "Partial Sun", lightCondition(3, 10))
	assert.Equal(t, "Partial Shade", lightCondition(1.5, 10))
	assert.Equal(t, "Shade", lightCondition(0.5, 10))
	assert.Equal(t, "Shade", lightCondition(0, 0))
}

func TestResultsPages(t *testing.T) {
	m, _ := newTestMeter(t, &fakeSensor{})
	insertAt(t, m, "2024-07-01 12:00:00", 20000)
	insertAt(t, m, "2024-07-01 12:30:00", 12000)
	form := url.Values{"start": {"2024-07-01T00:00"}, "end": {"2024-07-02T00:00"}}

	rec := do(m.ServeResultsGraph(), http.MethodPost, "/sunlightmeter/graph", form)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "echarts")
	assert.Contains(t, body, "2024-07-01 12:30:00")
	assert.Contains(t, body, "resultUpdateTrigger")

	rec = do(m.ServeResultsTab(), http.MethodPost, "/sunlightmeter/results", form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "16000.0000")
	assert.Contains(t, rec.Body.String(), "20000.0000")
}

func TestDashboardPages(t *testing.T) {
	m, _ := newTestMeter(t, &fakeSensor{})

	rec := do(m.ServeDashboard(), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Sunlight Meter</title>")

	rec = do(m.ServeSunlightControls(), http.MethodGet, "/sunlightmeter/controls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/sunlightmeter/start")

	rec = do(m.Start(), http.MethodGet, "/sunlightmeter/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sunlight Reading Started")
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	require.NoError(t, m.Shutdown())

	rec = do(m.ServeResultsDB(), http.MethodGet, "/sunlightmeter/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sunlightmeter.db")
}
