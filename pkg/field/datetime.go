package field

import (
	"strings"
	"time"

	"github.com/umputun/dbx/pkg/dberr"
)

// layouts used to write and read temporal values
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05.999999"
	DateTimeLayout = "2006-01-02 15:04:05.999999"
)

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST", // time.Time.String()
	"2006-01-02 15:04",
	DateLayout,
}

var timeLayouts = []string{
	"15:04:05.999999999",
	"15:04:05.999999999Z07:00",
	"15:04:05.999999999-07",
	"15:04",
}

// ParseDate parses "2006-01-02", a datetime is accepted and truncated to its date.
func ParseDate(s string) (time.Time, error) {
	t, err := ParseDateTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// ParseTime parses a time of day like "15:04:05" or "15:04:05.123".
// The result carries the zero date, 0000-01-01.
func ParseTime(s string) (time.Time, error) {
	txt := strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, txt); err == nil {
			return TimeOf(t), nil
		}
	}
	if t, err := ParseDateTime(txt); err == nil && strings.ContainsAny(txt, " T") {
		return TimeOf(t), nil
	}
	return time.Time{}, dberr.New(dberr.ErrParameter, "invalid time %q", s)
}

// ParseDateTime parses a datetime in one of the common SQL and RFC 3339 layouts.
// A date without time is midnight, text without zone is UTC.
func ParseDateTime(s string) (time.Time, error) {
	txt := strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, txt); err == nil {
			return t, nil
		}
	}
	return time.Time{}, dberr.New(dberr.ErrParameter, "invalid datetime %q", s)
}

// DateOf returns midnight of t's date in t's location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TimeOf returns the time of day of t on the zero date in UTC.
func TimeOf(t time.Time) time.Time {
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
