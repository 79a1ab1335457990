package reconcile

import (
	"time"

	"vigilintel/internal/domain"
)

// Day truncates a timestamp to UTC midnight, the granularity the
// connector reasons in.
func Day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Pending computes the ordered list of report dates still to process.
//
// Without a watermark the connector backfills lookbackDays into the past,
// ending at today. With one, processing resumes the day after the
// watermark; a watermark at or past today means no work.
func Pending(today time.Time, wm *domain.Watermark, lookbackDays int) []time.Time {
	today = Day(today)

	var start time.Time
	if wm == nil {
		start = today.AddDate(0, 0, -lookbackDays)
	} else {
		start = Day(wm.LastProcessedDate).AddDate(0, 0, 1)
		if start.After(today) {
			return nil
		}
	}

	var dates []time.Time
	for current := start; !current.After(today); current = current.AddDate(0, 0, 1) {
		dates = append(dates, current)
	}
	return dates
}
