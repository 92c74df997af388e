package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpiWeeks(t *testing.T) {
	cases := []struct {
		year      int
		firstDay  time.Time
		lastDay   time.Time
		weekCount int
	}{
		// Jan 1 2024 is a Monday; first Saturday is Jan 6.
		{year: 2024, firstDay: day(2023, time.December, 31), lastDay: day(2024, time.December, 22), weekCount: 52},
		// Jan 1 2025 is a Wednesday; first Saturday is Jan 4, which still counts.
		{year: 2025, firstDay: day(2024, time.December, 29), lastDay: day(2025, time.December, 28), weekCount: 53},
		// Jan 1 2026 is a Thursday; Jan 3 is too early, so week 1 ends Jan 10.
		{year: 2026, firstDay: day(2026, time.January, 4), lastDay: day(2026, time.December, 27), weekCount: 52},
	}

	for _, tc := range cases {
		weeks, err := EpiWeeks(tc.year)
		require.NoError(t, err)
		require.Len(t, weeks, tc.weekCount, "year %d", tc.year)

		assert.Equal(t, tc.firstDay, weeks[0].StartDate, "year %d", tc.year)
		assert.Equal(t, tc.lastDay, weeks[len(weeks)-1].StartDate, "year %d", tc.year)
		for i, w := range weeks {
			assert.Equal(t, time.Sunday, w.StartDate.Weekday())
			assert.Equal(t, i+1, w.WeekID)
			assert.Equal(t, tc.year, w.Year)
		}
	}
}

func TestEpiWeeks_ChainIntoValidWindows(t *testing.T) {
	weeks, err := EpiWeeks(2024)
	require.NoError(t, err)

	table, err := NewWeekTable(weeks)
	require.NoError(t, err)

	windows, err := BuildWindows(table)
	require.NoError(t, err)
	for _, w := range windows {
		assert.Equal(t, 7, w.Days())
	}
}

func TestEpiWeeks_OutOfRange(t *testing.T) {
	_, err := EpiWeeks(0)
	require.ErrorIs(t, err, ErrInvalidInput)
}
