package dashboard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Range is a query window. To is inclusive at second precision.
type Range struct {
	From time.Time
	To   time.Time
}

var ErrInvalidRange = errors.New("invalid date range")

// CurrentMonth returns the calendar month containing now, in UTC.
func CurrentMonth(now time.Time) Range {
	now = now.UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0).Add(-time.Second)
	return Range{From: from, To: to}
}

// YearToDate returns January 1st of now's year up to now, in UTC.
func YearToDate(now time.Time) Range {
	now = now.UTC()
	return Range{
		From: time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   now,
	}
}

// ParseRange parses a start and end date given as YYYY-MM-DD or RFC 3339.
// A bare end date covers the whole day.
func ParseRange(start, end string) (Range, error) {
	from, _, err := parseDate(start)
	if err != nil {
		return Range{}, fmt.Errorf("%w: startDate: %w", ErrInvalidRange, err)
	}
	to, dateOnly, err := parseDate(end)
	if err != nil {
		return Range{}, fmt.Errorf("%w: endDate: %w", ErrInvalidRange, err)
	}
	if dateOnly {
		to = to.AddDate(0, 0, 1).Add(-time.Second)
	}
	if !to.After(from) {
		return Range{}, fmt.Errorf("%w: endDate must be after startDate", ErrInvalidRange)
	}
	return Range{From: from, To: to}, nil
}

func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is not a date (want YYYY-MM-DD or RFC 3339)", s)
	}
	return t.UTC(), false, nil
}
