package parsers

import (
	"fmt"
	"strings"
	"time"

	// Embedded zoneinfo so DefaultLocation resolves without a system tz database.
	_ "time/tzdata"
)

// DefaultLocation is the calendar provider timestamps are read in when no
// location is configured.
var DefaultLocation = loadDefaultLocation()

func loadDefaultLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Layouts seen in SumUp, TWINT and bank exports, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"2.1.2006 15:04",
	"2.1.2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02.01.06",
}

// parseDate returns the calendar date of s in loc as UTC midnight.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return CalendarDate(t, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// CalendarDate truncates t to its calendar day in loc, expressed as UTC midnight.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
