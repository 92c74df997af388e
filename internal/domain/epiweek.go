package domain

import (
	"fmt"
	"time"
)

// EpiWeeks returns the epidemiological week table for year. Weeks start on
// Sunday; week 1 ends on the first Saturday of January that is at least four
// days into the month.
func EpiWeeks(year int) ([]WeekRecord, error) {
	if year < 1900 || year > 9999 {
		return nil, fmt.Errorf("%w: year %d out of range", ErrInvalidInput, year)
	}

	start := firstEpiWeekStart(year)
	next := firstEpiWeekStart(year + 1)

	var weeks []WeekRecord
	for week, day := 1, start; day.Before(next); week, day = week+1, day.AddDate(0, 0, 7) {
		weeks = append(weeks, WeekRecord{Year: year, WeekID: week, StartDate: day})
	}
	return weeks, nil
}

// firstEpiWeekStart returns the Sunday that opens week 1 of year.
func firstEpiWeekStart(year int) time.Time {
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Saturday) - int(jan1.Weekday()) + 7) % 7
	firstSaturday := jan1.AddDate(0, 0, offset)
	if firstSaturday.Day() < 4 {
		firstSaturday = firstSaturday.AddDate(0, 0, 7)
	}
	return firstSaturday.AddDate(0, 0, -6)
}
