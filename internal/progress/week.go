// Package progress maintains the per-user longitudinal document: weekly and
// lifetime running means, achievements, an idempotency trail of recorded
// sessions, plus the read cache and JSONL journal around it.
package progress

import (
	"fmt"
	"time"
)

// WeekID returns the ISO-8601 week identifier ("2026-35") for t. The year is
// the ISO week-year, which near January 1st can differ from the calendar
// year.
func WeekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-%02d", year, week)
}

// recentWeekIDs returns the ISO week ids for now and the n-1 weeks before
// it, most recent first.
func recentWeekIDs(now time.Time, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, WeekID(now.AddDate(0, 0, -7*i)))
	}
	return ids
}
