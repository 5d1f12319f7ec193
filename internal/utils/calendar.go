package utils

import (
	"fmt"
	"time"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/models"
)

// DeriveKey returns the canonical YYYY-MM-DD key for the calendar date of t.
// Time of day is ignored; the date is read in t's own location.
func DeriveKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day())
}

// FormatDisplay returns the human-readable label for t (YYYY.MM.DD).
func FormatDisplay(t time.Time) string {
	return t.Format(constants.DisplayDateFormat)
}

// PlaceholderFor synthesizes the non-persisted entry shown for a date with no entry.
func PlaceholderFor(t time.Time) models.Entry {
	return models.Entry{
		Title:       fmt.Sprintf("%s %s", constants.PlaceholderTitle, FormatDisplay(t)),
		DateKey:     DeriveKey(t),
		Placeholder: true,
	}
}

// YearOptions returns the picker window around center: five years either side.
func YearOptions(center int) []int {
	years := make([]int, 0, 2*constants.YearWindow+1)
	for y := center - constants.YearWindow; y <= center+constants.YearWindow; y++ {
		years = append(years, y)
	}
	return years
}

// MonthOptions returns January through December.
func MonthOptions() []time.Month {
	months := make([]time.Month, 0, 12)
	for m := time.January; m <= time.December; m++ {
		months = append(months, m)
	}
	return months
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WithYear moves t to year, keeping month and day. The day is clamped to the month length.
func WithYear(t time.Time, year int) time.Time {
	day := min(t.Day(), DaysIn(year, t.Month()))
	return time.Date(year, t.Month(), day, 0, 0, 0, 0, t.Location())
}

// WithMonth moves t to month, keeping year and day. The day is clamped to the month length.
func WithMonth(t time.Time, month time.Month) time.Time {
	day := min(t.Day(), DaysIn(t.Year(), month))
	return time.Date(t.Year(), month, day, 0, 0, 0, 0, t.Location())
}

// MonthGrid lays out a month as weeks starting on Sunday. Cells outside the month are 0.
func MonthGrid(year int, month time.Month) [][]int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(first.Weekday())
	days := DaysIn(year, month)

	var weeks [][]int
	week := make([]int, 7)
	col := offset
	for day := 1; day <= days; day++ {
		week[col] = day
		col++
		if col == 7 {
			weeks = append(weeks, week)
			week = make([]int, 7)
			col = 0
		}
	}
	if col > 0 {
		weeks = append(weeks, week)
	}
	return weeks
}
