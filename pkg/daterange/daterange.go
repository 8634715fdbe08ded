// Package daterange turns calendar days in the clinic's time zone into
// half-open instant ranges.
package daterange

import (
	"fmt"
	"time"
)

const Layout = "2006-01-02"

// Range is the half-open interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Day returns the calendar day containing t, as seen in loc. Days are not
// assumed to be 24 hours long.
func Day(t time.Time, loc *time.Location) Range {
	local := t.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Range{From: from, To: from.AddDate(0, 0, 1)}
}

// ParseDay reads a YYYY-MM-DD day in loc. An empty string means the day
// containing now.
func ParseDay(s string, loc *time.Location, now time.Time) (Range, error) {
	if s == "" {
		return Day(now, loc), nil
	}
	t, err := time.ParseInLocation(Layout, s, loc)
	if err != nil {
		return Range{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return Day(t, loc), nil
}

// ValidDate reports whether s is empty or a YYYY-MM-DD date.
func ValidDate(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(Layout, s)
	return err == nil
}
