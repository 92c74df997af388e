package domain

import (
	"fmt"
	"time"
)

// tailWindowDays is the length assumed for the last week, which has no
// successor row to take its end from.
const tailWindowDays = 7

// Window is the half-open date interval [Start, End) covered by one week.
type Window struct {
	Year   int
	WeekID int
	Start  time.Time
	End    time.Time
}

// Contains reports whether day falls inside the window.
func (w Window) Contains(day time.Time) bool {
	day = CalendarDay(day)
	return !day.Before(w.Start) && day.Before(w.End)
}

// Days returns the number of calendar days in the window.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

func (w Window) String() string {
	return fmt.Sprintf("se %d/%d [%s, %s)", w.WeekID, w.Year, FormatDay(w.Start), FormatDay(w.End))
}

// BuildWindows derives one window per week record. Window i ends where
// window i+1 starts; the last window ends exactly 7 days after its start,
// regardless of the cadence of earlier rows.
func BuildWindows(records []WeekRecord) ([]Window, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no week records", ErrInvalidInput)
	}

	windows := make([]Window, len(records))
	for i, r := range records {
		start := CalendarDay(r.StartDate)
		var end time.Time
		if i+1 < len(records) {
			end = CalendarDay(records[i+1].StartDate)
		} else {
			end = start.AddDate(0, 0, tailWindowDays)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("%w: week %d starts %s but next week starts %s",
				ErrInvalidInput, r.WeekID, FormatDay(start), FormatDay(end))
		}
		windows[i] = Window{Year: r.Year, WeekID: r.WeekID, Start: start, End: end}
	}
	return windows, nil
}
