package monitor

import (
	"slices"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
)

// rollover describes what a roll changed.
type rollover struct {
	window   bool
	period   bool
	released bool
}

func newLedger(tenantID string, pol *model.ThresholdPolicy, now time.Time) ledger {
	return ledger{
		usage: model.UsageState{
			TenantID:    tenantID,
			PeriodStart: model.PeriodStart(pol.Period, now),
			WindowStart: model.PeriodStart(pol.Window, now),
			UpdatedAt:   now,
		},
	}
}

// roll advances l to the window and period containing now. It never mutates
// the slices or maps reachable from its argument, so it is safe to call on a
// copy taken under the tenant lock.
//
// Closing a window appends its final value to the history; windows skipped
// while the tenant was idle are recorded as zero. Closing a period clears the
// cumulative value, peak and breakdowns, resets the tier baseline and lifts
// restrictive mode if it was entered automatically.
func roll(l ledger, pol *model.ThresholdPolicy, now time.Time, historyLimit int) (ledger, rollover) {
	var ro rollover

	windowStart := model.PeriodStart(pol.Window, now)
	if windowStart.After(l.usage.WindowStart) {
		ro.window = true
		if !l.usage.WindowStart.IsZero() && historyLimit > 0 {
			l.history = closeWindows(l.history, pol.Window, l.usage.WindowStart, l.usage.WindowedValue, windowStart, historyLimit)
		}
		l.usage.WindowedValue = 0
		l.usage.WindowStart = windowStart
	}

	periodStart := model.PeriodStart(pol.Period, now)
	if periodStart.After(l.usage.PeriodStart) {
		ro.period = true
		l.usage.CumulativeValue = 0
		l.usage.PeakValue = 0
		l.usage.ByModel = nil
		l.usage.ByUser = nil
		l.usage.ByFeature = nil
		l.usage.PeriodStart = periodStart
		l.lastFraction = 0
		if l.restrict.Active && l.restrict.Automatic {
			l.restrict = model.RestrictiveState{}
			ro.released = true
		}
	}

	return l, ro
}

func closeWindows(history []model.WindowPoint, window model.BudgetPeriod, start time.Time, value float64, until time.Time, limit int) []model.WindowPoint {
	out := append(slices.Clip(history), model.WindowPoint{Start: start, Value: value})
	for {
		_, end := model.PeriodBounds(window, start)
		if !end.Before(until) {
			break
		}
		start = end
		out = append(out, model.WindowPoint{Start: start})
	}
	if over := len(out) - limit; over > 0 {
		out = out[over:]
	}
	return out
}

// addShare adds delta to m[key]; m must be a private copy. Entries that drop
// to zero or below are removed.
func addShare(m map[string]float64, key string, delta float64) map[string]float64 {
	if key == "" {
		return m
	}
	if m == nil {
		m = make(map[string]float64)
	}
	v := m[key] + delta
	if v <= 0 {
		delete(m, key)
		return m
	}
	m[key] = v
	return m
}
