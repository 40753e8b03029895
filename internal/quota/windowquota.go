package quota

import "time"

// Window names a reset period for the window-quota gate (§4.4 gate 1).
type Window string

const (
	WindowHourly  Window = "hourly"
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

func truncate(t time.Time, w Window) time.Time {
	switch w {
	case WindowHourly:
		return t.Truncate(time.Hour)
	case WindowDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case WindowMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}

// windowCounter is an atomic counter per (tenant, resource, window) with
// reset-on-rollover semantics. Overshoot is prevented by check-then-increment
// under the same lock that guards the bucket's reset.
type windowCounter struct {
	periodStart time.Time
	count       int64
	limit       int64
	window      Window
}

func newWindowCounter(limit int64, window Window, now time.Time) *windowCounter {
	return &windowCounter{periodStart: truncate(now, window), limit: limit, window: window}
}

// tryIncrement performs the compare-and-add described in §4.4: if the
// current period has rolled over, reset first; then admit only if under
// limit. A limit <= 0 means "unconfigured", which always admits.
func (c *windowCounter) tryIncrement(now time.Time) (ok bool, retryAfter time.Duration) {
	if c.limit <= 0 {
		return true, 0
	}
	periodStart := truncate(now, c.window)
	if periodStart.After(c.periodStart) {
		c.periodStart = periodStart
		c.count = 0
	}
	if c.count >= c.limit {
		return false, nextPeriodIn(now, c.window)
	}
	c.count++
	return true, 0
}

func nextPeriodIn(now time.Time, w Window) time.Duration {
	switch w {
	case WindowHourly:
		return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
	case WindowDaily:
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return dayStart.AddDate(0, 0, 1).Sub(now)
	case WindowMonthly:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return monthStart.AddDate(0, 1, 0).Sub(now)
	default:
		return 0
	}
}
