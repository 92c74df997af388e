package domain

import (
	"fmt"
	"time"
)

// WeekRecord is one row of the epidemiological week table.
type WeekRecord struct {
	Year      int
	WeekID    int
	StartDate time.Time
}

// NewWeekTable validates and normalizes loaded week records. Start dates are
// truncated to calendar days in UTC and must be strictly increasing.
func NewWeekTable(records []WeekRecord) ([]WeekRecord, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: week table is empty", ErrInvalidInput)
	}

	out := make([]WeekRecord, len(records))
	for i, r := range records {
		if r.StartDate.IsZero() {
			return nil, fmt.Errorf("%w: row %d (se=%d) has no start date", ErrInvalidInput, i+1, r.WeekID)
		}
		r.StartDate = CalendarDay(r.StartDate)
		if i > 0 && !r.StartDate.After(out[i-1].StartDate) {
			return nil, fmt.Errorf("%w: row %d start %s is not after %s",
				ErrInvalidInput, i+1, FormatDay(r.StartDate), FormatDay(out[i-1].StartDate))
		}
		out[i] = r
	}
	return out, nil
}

// CalendarDay drops the time-of-day and location, keeping the wall-clock date.
func CalendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a calendar day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(time.DateOnly)
}
