package subscription

import (
	"math"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// wholeDays rounds d up to whole days. Negative durations count as zero.
func wholeDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// resumedPeriodEnd shifts periodEnd by the days spent paused when the period
// was still running at resume time. A period that lapsed during the pause
// restarts with graceDays from now.
func resumedPeriodEnd(periodEnd, pauseDate, now time.Time, graceDays int) time.Time {
	if periodEnd.After(now) {
		return periodEnd.AddDate(0, 0, wholeDays(now.Sub(pauseDate)))
	}
	return now.AddDate(0, 0, graceDays)
}

// daysRemaining is the number of started days left before periodEnd.
func daysRemaining(periodEnd, now time.Time) int {
	return wholeDays(periodEnd.Sub(now))
}
