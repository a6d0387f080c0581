package store

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the stamp format for ingested readings: UTC with millisecond
// precision, fixed width so the strings sort chronologically.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
}

// Layouts without an offset are read as server local time.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate accepts ISO-8601 with an offset and the local "YYYY-MM-DD HH:MM:SS"
// form the older dashboards produced.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, l := range zonedLayouts {
		if t, err := time.Parse(l, v); err == nil {
			return t.UTC(), nil
		}
	}
	for _, l := range localLayouts {
		if t, err := time.ParseInLocation(l, v, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp " + v)
}
