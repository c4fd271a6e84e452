package tools

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestConnectSqliteRunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := ConnectSqlite(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO sunlight (job_id, lux, gain, integration_ms) VALUES (?, ?, ?, ?)`, "job", 12.5, "Low gain (1x)", 300)
	require.NoError(t, err)

	var lux float64
	var created time.Time
	require.NoError(t, db.QueryRow(`SELECT lux, created_at FROM sunlight`).Scan(&lux, &created))
	assert.Equal(t, 12.5, lux)
	assert.WithinDuration(t, time.Now(), created, time.Minute)

	// Migrations are safe to run again on an existing database.
	assert.NoError(t, RunMigrations(db))
}

func TestMigrationsAppliedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := ConnectSqlite(path)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db))
	require.NoError(t, db.Close())

	// Reopening an existing database leaves the ledger and the data alone.
	db, err = ConnectSqlite(path)
	require.NoError(t, err)
	defer db.Close()

	var names []string
	rows, err := db.Query(`SELECT name FROM schema_migrations ORDER BY name`)
	require.NoError(t, err)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, []string{"001_sunlight.sql"}, names)
}

func TestConnectWithBackoffReportsEveryAttempt(t *testing.T) {
	db, err := connectWithBackoff("no-such-driver", "ignored", 3, 0)
	assert.Nil(t, db)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestCheckInNetwork(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := CheckInNetwork(ok)

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5000", http.StatusTeapot},
		{"[::1]:5000", http.StatusTeapot},
		{"192.168.1.20:5000", http.StatusTeapot},
		{"10.1.2.3:5000", http.StatusTeapot},
		{"172.20.0.1:5000", http.StatusTeapot},
		{"8.8.8.8:5000", http.StatusForbidden},
		{"not-an-address", http.StatusBadRequest},
		{"host:5000", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.remote)
	}
}

func TestParseStartAndEndDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Indiana/Indianapolis")
	require.NoError(t, err)

	form := url.Values{"start": {"2024-07-01T08:00"}, "end": {"2024-07-01T20:30"}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start, end := ParseStartAndEndDate(req, loc)
	// EDT is UTC-4 in July.
	assert.Equal(t, "2024-07-01 12:00:00", start)
	assert.Equal(t, "2024-07-02 00:30:00", end)

	s, e, err := StartAndEndDateToTime(start, end)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour+30*time.Minute, e.Sub(s))
}

func TestParseStartAndEndDateDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?start=garbage", nil)
	start, end := ParseStartAndEndDate(req, nil)

	s, e, err := StartAndEndDateToTime(start, end)
	require.NoError(t, err)
	assert.Equal(t, DefaultRange, e.Sub(s))
	assert.WithinDuration(t, time.Now().UTC(), e, time.Minute)
}

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")

	require.NoError(t, EnsureCertificate(cert, key, []string{"localhost", "127.0.0.1"}))
	assert.True(t, certificateValid(cert, key, time.Now()))
	assert.False(t, certificateValid(cert, key, time.Now().Add(2*certLifetime)))

	// A valid pair is left alone.
	before, err := os.ReadFile(cert)
	require.NoError(t, err)
	require.NoError(t, EnsureCertificate(cert, key, nil))
	after, err := os.ReadFile(cert)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	file := filepath.Join(t.TempDir(), "slm.log")
	closer, err := SetupLogging("debug", file)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	log.Debug("hello from the test")
	require.NoError(t, closer.Close())
	assert.FileExists(t, file)

	_, err = SetupLogging("chatty", "")
	assert.Error(t, err)

	closer, err = SetupLogging("", "")
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
