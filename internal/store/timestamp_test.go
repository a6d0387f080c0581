package store

import (
	"testing"
	"time"
)

func TestFormatDate(t *testing.T) {
	ts := time.Date(2025, 6, 8, 12, 34, 56, 789_000_000, time.FixedZone("CEST", 2*3600))
	if got := FormatDate(ts); got != "2025-06-08T10:34:56.789Z" {
		t.Fatalf("unexpected format: %s", got)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 6, 8, 10, 34, 56, 0, time.UTC)
	for _, v := range []string{"2025-06-08T10:34:56Z", "2025-06-08T10:34:56.000Z", "2025-06-08T12:34:56+02:00"} {
		got, err := ParseDate(v)
		if err != nil {
			t.Fatalf("parse %q: %v", v, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: got %v want %v", v, got, want)
		}
	}
	local, err := ParseDate("2025-06-08 10:34:56")
	if err != nil {
		t.Fatalf("parse local: %v", err)
	}
	if !local.Equal(time.Date(2025, 6, 8, 10, 34, 56, 0, time.Local)) {
		t.Fatalf("local form should be read in server time zone, got %v", local)
	}
	// datetime-local inputs send minutes without seconds.
	form, err := ParseDate("2025-06-08T10:34")
	if err != nil {
		t.Fatalf("parse datetime-local: %v", err)
	}
	if !form.Equal(time.Date(2025, 6, 8, 10, 34, 0, 0, time.Local)) {
		t.Fatalf("unexpected datetime-local parse: %v", form)
	}
	for _, v := range []string{"", "  ", "not a date", "08/06/2025"} {
		if _, err := ParseDate(v); err == nil {
			t.Fatalf("expected error for %q", v)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil || c != nil {
		t.Fatalf("empty cursor should decode to nil, got %v %v", c, err)
	}
	if _, err := DecodeCursor("!!"); err == nil {
		t.Fatalf("expected invalid cursor error")
	}
}
