package sunlightmeter

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/internal/tools"
)

// Reference levels drawn behind the lux series.
var lightLevels = []struct {
	lux   int
	title string
	color string
}{
	{500, "Shade", "DarkGrey"},
	{1000, "Partial Shade", "WhiteSmoke"},
	{10000, "Partial Sun", "SkyBlue"},
	{25000, "Full Sun", "Yellow"},
}

// Serve the sqlite db for download
func (m *SLMeter) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := m.DBPath
		if path == "" {
			path = DB_PATH
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(path)))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, path)
	}
}

// Serve the homepage
func (m *SLMeter) ServeDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileContent, err := templateFiles.ReadFile("html/dashboard.html")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(fileContent)
	}
}

// Serve the controls for the sensor, start/stop/export/current-conditions/config
func (m *SLMeter) ServeSunlightControls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/controls.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tmpl.Execute(w, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Status of the sensor
func (m *SLMeter) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/status.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		status, err := m.sensorStatus()
		if err != nil {
			// Still render what we know, the register read is best effort.
			log.WithError(err).Warn("Failed to read sensor registers")
		}
		if err := tmpl.Execute(w, status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

type luxPoint struct {
	lux       float64
	createdAt time.Time
}

func (m *SLMeter) luxInRange(startDate, endDate string) ([]luxPoint, error) {
	rows, err := m.ResultsDB.Query("SELECT lux, created_at FROM sunlight WHERE created_at BETWEEN ? AND ? ORDER BY created_at", startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []luxPoint
	for rows.Next() {
		var p luxPoint
		if err := rows.Scan(&p.lux, &p.createdAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Serve the results graph
func (m *SLMeter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the date range for the graph from the request
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)

		points, err := m.luxInRange(startDate, endDate)
		if err != nil {
			log.WithError(err).Error("Failed to query results")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Create a new page and add the line chart to it
		page := components.NewPage()
		page.AddCharts(m.luxChart(points))

		// Render the graphs
		w.Header().Set("Content-Type", "text/html")
		if err := page.Render(w); err != nil {
			log.WithError(err).Error("Failed to render graph")
			return
		}
		// Trigger an update for the results tab
		io.WriteString(w, `<div id='resultUpdateTrigger' hx-post='/sunlightmeter/results' hx-target='#resultsContent' hx-include='#dateRange' hx-trigger='load'></div>`)
		io.WriteString(w, `<script>document.title = "Sunlight Meter";</script>`)
	}
}

func (m *SLMeter) luxChart(points []luxPoint) *charts.Line {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}

	luxValues := make([]opts.LineData, 0, len(points))
	timeValues := make([]string, 0, len(points))
	maxLux := 0
	for _, p := range points {
		if p.lux > float64(maxLux) {
			// Round up to the nearest 5000
			maxLux = int(math.Ceil(p.lux/5000) * 5000)
		}
		luxValues = append(luxValues, opts.LineData{Value: p.lux})
		timeValues = append(timeValues, p.createdAt.In(loc).Format("2006-01-02 15:04:05"))
	}

	line := charts.NewLine()
	for _, level := range lightLevels {
		data := make([]opts.LineData, len(timeValues))
		for i := range data {
			data[i] = opts.LineData{Value: level.lux}
		}
		line.AddSeries(level.title, data, charts.WithLineChartOpts(opts.LineChart{Color: level.color}))
	}

	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:     types.ThemeChalk,
			PageTitle: "Sunlight Meter",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "Time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "Lux",
			Min:  "0",
			Max:  fmt.Sprintf("%d", maxLux),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      true,
			Trigger:   "axis",
			TriggerOn: "mousemove",
			Formatter: fmt.Sprintf("{a%d}: {c%d}<br> Time: {b0}", len(lightLevels), len(lightLevels)),
		}),
		charts.WithToolboxOpts(opts.Toolbox{
			Show: true,
			Feature: &opts.ToolBoxFeature{
				SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
					Show:  true,
					Title: "Save as Image",
					Name:  "sunlight-meter",
				},
			},
		}),
	)
	line.SetXAxis(timeValues).AddSeries("Lux", luxValues)
	return line
}

// Update the info in the results tab
func (m *SLMeter) ServeResultsTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)
		conditions, err = m.getHistoricalConditions(conditions, startDate, endDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tmpl, err := parseTemplateFile("html/results.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type ConditionsForDisplay struct {
			JobID                 string
			Lux                   string
			FullSpectrum          string
			Visible               string
			Infrared              string
			Gain                  string
			DateRange             string
			RecordedHoursInRange  string
			FullSunlightInRange   string
			LightConditionInRange string
			AverageLuxInRange     string
			MedianLuxInRange      string
			PeakLuxInRange        string
			StartDate             string
			EndDate               string
		}
		err = tmpl.Execute(w, ConditionsForDisplay{
			JobID:                 conditions.JobID,
			Lux:                   fmt.Sprintf("%.4f", conditions.Lux),
			FullSpectrum:          fmt.Sprintf("%.4f", conditions.FullSpectrum),
			Visible:               fmt.Sprintf("%.4f", conditions.Visible),
			Infrared:              fmt.Sprintf("%.4f", conditions.Infrared),
			Gain:                  conditions.Gain,
			DateRange:             conditions.DateRange,
			RecordedHoursInRange:  fmt.Sprintf("%.4f", conditions.RecordedHoursInRange),
			FullSunlightInRange:   fmt.Sprintf("%.4f", conditions.FullSunlightInRange),
			LightConditionInRange: conditions.LightConditionInRange,
			AverageLuxInRange:     fmt.Sprintf("%.4f", conditions.AverageLuxInRange),
			MedianLuxInRange:      fmt.Sprintf("%.4f", conditions.MedianLuxInRange),
			PeakLuxInRange:        fmt.Sprintf("%.4f", conditions.PeakLuxInRange),
			StartDate:             startDate,
			EndDate:               endDate,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Summarise the readings recorded between startDate and endDate
func (m *SLMeter) getHistoricalConditions(conditions Conditions, startDate string, endDate string) (Conditions, error) {
	if m.ResultsDB == nil {
		return conditions, nil
	}
	// Show the date range in the meter's timezone
	conditions.DateRange = fmt.Sprintf("%s - %s UTC", startDate, endDate)
	if start, end, err := tools.StartAndEndDateToTime(startDate, endDate); err == nil {
		loc := m.Location
		if loc == nil {
			loc = time.UTC
		}
		conditions.DateRange = fmt.Sprintf("%s - %s", start.In(loc).Format("2006-01-02 15:04:05"), end.In(loc).Format("2006-01-02 15:04:05 MST"))
	}

	points, err := m.luxInRange(startDate, endDate)
	if err != nil {
		return conditions, err
	}
	if len(points) == 0 {
		conditions.LightConditionInRange = "No Data in Range"
		return conditions, nil
	}

	data := make(stats.Float64Data, len(points))
	for i, p := range points {
		data[i] = p.lux
	}
	if conditions.AverageLuxInRange, err = data.Mean(); err != nil {
		return conditions, err
	}
	if conditions.MedianLuxInRange, err = data.Median(); err != nil {
		return conditions, err
	}
	if conditions.PeakLuxInRange, err = data.Max(); err != nil {
		return conditions, err
	}

	// Minutes where the average lux was above 10k count as full sunlight
	conditions.FullSunlightInRange = float64(fullSunMinutes(points)) / 60

	// Determine the light condition for the date range
	oldest, mostRecent := points[0].createdAt, points[len(points)-1].createdAt
	conditions.RecordedHoursInRange = mostRecent.Sub(oldest).Hours()
	conditions.LightConditionInRange = lightCondition(conditions.FullSunlightInRange, conditions.RecordedHoursInRange)
	return conditions, nil
}

func fullSunMinutes(points []luxPoint) int {
	byMinute := map[time.Time]stats.Float64Data{}
	for _, p := range points {
		minute := p.createdAt.Truncate(time.Minute)
		byMinute[minute] = append(byMinute[minute], p.lux)
	}
	count := 0
	for _, lux := range byMinute {
		if avg, err := lux.Mean(); err == nil && avg > 10000 {
			count++
		}
	}
	return count
}

func lightCondition(fullSunHours, recordedHours float64) string {
	if recordedHours <= 0 {
		if fullSunHours > 0 {
			return "Full Sun"
		}
		return "Shade"
	}
	ratio := fullSunHours / recordedHours
	switch {
	case ratio > 0.5:
		return "Full Sun"
	case ratio > 0.25:
		return "Partial Sun"
	case ratio > 0.1:
		return "Partial Shade"
	default:
		return "Shade"
	}
}

// Used to clear a div with htmx
func (m *SLMeter) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
	}
}
