package monitor

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/google/uuid"
)

// ReportUsage adds r.Delta to the tenant's usage and evaluates its tiers.
// Deltas may be negative (corrections) as long as the cumulative value stays
// at or above zero. Nothing is applied when the report is rejected.
func (m *Monitor) ReportUsage(tenantID string, r model.UsageReport) (model.UsageState, error) {
	if math.IsNaN(r.Delta) || math.IsInf(r.Delta, 0) {
		m.metrics.ObserveReport("rejected")
		return model.UsageState{}, fmt.Errorf("%w: amount must be finite, got %v", model.ErrInvalidUsage, r.Delta)
	}

	var out model.UsageState
	err := m.withTenant(tenantID, func(t *tenant, pol *model.ThresholdPolicy, now time.Time) error {
		u := t.state.usage
		next := u.CumulativeValue + r.Delta
		if next < 0 {
			return fmt.Errorf("%w: cumulative value would become %.4f", model.ErrInvalidUsage, next)
		}

		u = u.Clone()
		u.CumulativeValue = next
		u.WindowedValue = max(0, u.WindowedValue+r.Delta)
		u.PeakValue = max(u.PeakValue, next)
		u.ByModel = addShare(u.ByModel, r.Model, r.Delta)
		u.ByUser = addShare(u.ByUser, r.User, r.Delta)
		u.ByFeature = addShare(u.ByFeature, r.Feature, r.Delta)
		u.UpdatedAt = now
		t.state.usage = u

		m.evaluate(t, pol, now)
		out = u.Clone()
		return nil
	})
	if err != nil {
		m.metrics.ObserveReport("rejected")
		return model.UsageState{}, err
	}

	m.metrics.ObserveReport("ok")
	return out, nil
}

// evaluate fires an alert for every tier crossed upward since the previous
// evaluation. Caller holds t.mu.
func (m *Monitor) evaluate(t *tenant, pol *model.ThresholdPolicy, now time.Time) {
	l := &t.state
	fraction := pol.Fraction(l.usage.CumulativeValue)
	prev := l.lastFraction
	l.lastFraction = fraction

	top := len(pol.Limits) - 1
	for i, lim := range pol.Limits {
		if prev >= lim.Fraction || fraction < lim.Fraction {
			continue
		}
		if i == top && pol.AutoRestrict && !l.restrict.Active {
			reason := fmt.Sprintf("usage reached %s threshold (%.0f%%)", lim.Name, lim.Fraction*100)
			m.activate(t, pol, now, reason, true)
			continue
		}
		m.emit(t, model.Alert{
			ID:                  uuid.New().String(),
			TenantID:            t.id,
			Tier:                lim.Name,
			Severity:            pol.SeverityFor(lim.Name),
			Message:             fmt.Sprintf("usage reached %.1f%% of limit (%.2f / %.2f)", fraction*100, l.usage.CumulativeValue, pol.HardLimit),
			TriggeredAtFraction: fraction,
			Value:               l.usage.CumulativeValue,
			HardLimit:           pol.HardLimit,
			Timestamp:           now,
		})
	}
}

// rebaseline moves the tier baseline onto a new policy: the highest of its
// tiers already alerted in the current period. Tiers the new policy lowered
// under the current usage then fire on the next report, and tiers that have
// already fired stay quiet. Caller holds t.mu.
func rebaseline(l *ledger, pol *model.ThresholdPolicy) {
	top := len(pol.Limits) - 1
	base := 0.0
	for i, lim := range pol.Limits {
		restricted := i == top && pol.AutoRestrict && l.restrict.Active
		if restricted || alertedSince(l.alerts, lim.Name, l.usage.PeriodStart) {
			base = lim.Fraction
		}
	}
	l.lastFraction = base
}

func alertedSince(alerts []model.Alert, tier string, since time.Time) bool {
	return slices.ContainsFunc(alerts, func(a model.Alert) bool {
		return a.Tier == tier && !a.Timestamp.Before(since)
	})
}

// activate puts the tenant into restrictive mode and emits the terminal
// alert. Caller holds t.mu and has checked that the mode is inactive.
func (m *Monitor) activate(t *tenant, pol *model.ThresholdPolicy, now time.Time, reason string, automatic bool) {
	l := &t.state
	activatedAt := now
	l.restrict = model.RestrictiveState{
		Active:      true,
		Automatic:   automatic,
		Reason:      reason,
		ActivatedAt: &activatedAt,
	}
	m.metrics.AddRestrictive(1)

	m.logger.Warn("restrictive mode activated",
		"tenant", t.id,
		"reason", reason,
		"automatic", automatic,
	)

	fraction := pol.Fraction(l.usage.CumulativeValue)
	m.emit(t, model.Alert{
		ID:                  uuid.New().String(),
		TenantID:            t.id,
		Tier:                model.TierRestrictiveActivated,
		Severity:            pol.SeverityFor(model.TierRestrictiveActivated),
		Message:             "restrictive mode activated: " + reason,
		TriggeredAtFraction: fraction,
		Value:               l.usage.CumulativeValue,
		HardLimit:           pol.HardLimit,
		Timestamp:           now,
	})
}

func (m *Monitor) emit(t *tenant, alert model.Alert) {
	t.state.alerts = append(t.state.alerts, alert)
	m.metrics.ObserveAlert(alert.Tier)

	m.logger.Warn("usage alert",
		"tenant", alert.TenantID,
		"tier", alert.Tier,
		"severity", alert.Severity,
		"fraction", alert.TriggeredAtFraction,
	)

	if m.sink != nil {
		m.sink.Enqueue(alert)
	}
}

// withTenant runs fn with the tenant locked and its counters rolled to now.
// The tenant is created on first use; a tenant without an effective policy is
// rejected with ErrPolicyNotFound and left untouched.
func (m *Monitor) withTenant(tenantID string, fn func(t *tenant, pol *model.ThresholdPolicy, now time.Time) error) error {
	if tenantID == "" {
		return model.ErrTenantRequired
	}
	pol := m.effectivePolicy(m.lookup(tenantID))
	if pol == nil {
		return fmt.Errorf("tenant %q: %w", tenantID, model.ErrPolicyNotFound)
	}

	t := m.getOrCreate(tenantID, pol)
	t.mu.Lock()
	defer t.mu.Unlock()

	pol = m.effectivePolicy(t)
	now := m.clock.Now()
	m.applyRoll(t, pol, now)
	return fn(t, pol, now)
}

// applyRoll commits a roll to the stored ledger. Caller holds t.mu.
func (m *Monitor) applyRoll(t *tenant, pol *model.ThresholdPolicy, now time.Time) bool {
	next, ro := roll(t.state, pol, now, m.historyLimit)
	t.state = next

	if ro.window {
		m.metrics.ObserveRollover("window")
	}
	if ro.period {
		m.metrics.ObserveRollover("period")
		m.logger.Info("usage period rolled over",
			"tenant", t.id,
			"period", pol.Period,
			"period_start", next.usage.PeriodStart,
		)
	}
	if ro.released {
		m.metrics.AddRestrictive(-1)
		m.logger.Info("restrictive mode released by period rollover", "tenant", t.id)
	}
	return ro.window || ro.period
}
