package engine

import (
	"time"

	"stakeline/internal/domain"
)

// NextWindow computes the successor occurrence's schedule window for a
// recurring commitment. The second return is false for one_time or unknown
// frequencies.
func NextWindow(start, end time.Time, frequency string) (time.Time, time.Time, bool) {
	switch frequency {
	case domain.FrequencyDaily:
		return start.AddDate(0, 0, 1), end.AddDate(0, 0, 1), true
	case domain.FrequencyWeekly:
		return start.AddDate(0, 0, 7), end.AddDate(0, 0, 7), true
	case domain.FrequencyMonthly:
		return addOneMonth(start), addOneMonth(end), true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// addOneMonth advances by one calendar month, clamping to the last valid day
// of the target month. Jan 31 becomes Feb 28 (Feb 29 in leap years), unlike
// time.AddDate which would normalize it into March.
func addOneMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	last := daysInMonth(year, month+1)
	if day > last {
		day = last
	}
	return time.Date(year, month+1, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
