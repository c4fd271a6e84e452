package tools

import (
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	layoutInput = "2006-01-02T15:04"
	layoutDB    = "2006-01-02 15:04:05"

	// DefaultRange is the window used when a request names no dates.
	DefaultRange = 8 * time.Hour
)

// Prevent out-of-network requests to dashboard endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !isLocalAddress(parsedIP) {
			log.WithField("remote", ip).Warn("Rejected out-of-network request")
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isLocalAddress(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback()
}

// ParseStartAndEndDate reads the start and end form values, given in loc,
// and formats them in UTC for comparison with the DB. Missing or unparsable
// values fall back to the last DefaultRange.
func ParseStartAndEndDate(r *http.Request, loc *time.Location) (string, string) {
	if loc == nil {
		loc = time.UTC
	}
	r.ParseForm()
	now := time.Now().UTC()
	startDate := now.Add(-DefaultRange).Format(layoutDB)
	endDate := now.Format(layoutDB)

	if start := r.FormValue("start"); start != "" {
		if t, err := time.ParseInLocation(layoutInput, start, loc); err != nil {
			log.WithError(err).Warn("Error parsing start date")
		} else {
			startDate = t.UTC().Format(layoutDB)
		}
	}
	if end := r.FormValue("end"); end != "" {
		if t, err := time.ParseInLocation(layoutInput, end, loc); err != nil {
			log.WithError(err).Warn("Error parsing end date")
		} else {
			endDate = t.UTC().Format(layoutDB)
		}
	}
	return startDate, endDate
}

func StartAndEndDateToTime(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(layoutDB, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(layoutDB, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
