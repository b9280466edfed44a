package monitor

import (
	"math"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
)

// view is a rolled, read-only copy of a tenant taken under its lock.
type view struct {
	policy *model.ThresholdPolicy
	ledger ledger
	now    time.Time
}

// observe returns the tenant as it would look at now, without committing any
// rollover. ok is false when the tenant has no effective policy.
func (m *Monitor) observe(tenantID string) (v view, ok bool) {
	t := m.lookup(tenantID)
	pol := m.effectivePolicy(t)
	if pol == nil {
		return view{}, false
	}

	now := m.clock.Now()
	if t == nil {
		return view{policy: pol, ledger: newLedger(tenantID, pol, now), now: now}, true
	}

	t.mu.Lock()
	pol = m.effectivePolicy(t)
	l := t.state
	t.mu.Unlock()

	l.alerts = nil
	l, _ = roll(l, pol, now, m.historyLimit)
	return view{policy: pol, ledger: l, now: now}, true
}

// GetStatus returns the tenant's current tier and whether it may proceed.
// A tenant with no effective policy gets Tier == model.TierNoPolicy and
// HasPolicy == false.
func (m *Monitor) GetStatus(tenantID string) model.Status {
	v, ok := m.observe(tenantID)
	if !ok {
		return model.Status{TenantID: tenantID, Tier: model.TierNoPolicy}
	}
	return v.status(tenantID)
}

func (v view) status(tenantID string) model.Status {
	u := v.ledger.usage
	r := v.ledger.restrict
	fraction := v.policy.Fraction(u.CumulativeValue)
	grace := r.GraceActiveAt(v.now)

	s := model.Status{
		TenantID:          tenantID,
		HasPolicy:         true,
		Fraction:          fraction,
		Tier:              v.policy.TierFor(fraction),
		CanProceed:        !r.Active || grace,
		RestrictiveActive: r.Active,
		GraceActive:       grace,
		CumulativeValue:   u.CumulativeValue,
		WindowedValue:     u.WindowedValue,
		HardLimit:         v.policy.HardLimit,
	}
	if grace {
		endsAt := *r.GraceEndsAt
		s.GraceEndsAt = &endsAt
	}
	return s
}

// CheckAdmission reports whether an operation adding estimatedIncrement may
// proceed. It never mutates state. Negative or NaN increments count as zero.
func (m *Monitor) CheckAdmission(tenantID string, estimatedIncrement float64) model.Admission {
	adm := m.admit(tenantID, estimatedIncrement)
	m.metrics.ObserveAdmission(adm.Allowed, adm.Reason)
	if !adm.Allowed {
		m.logger.Debug("admission denied",
			"tenant", tenantID,
			"reason", adm.Reason,
			"estimated_increment", estimatedIncrement,
		)
	}
	return adm
}

func (m *Monitor) admit(tenantID string, inc float64) model.Admission {
	if math.IsNaN(inc) || inc < 0 {
		inc = 0
	}

	v, ok := m.observe(tenantID)
	if !ok {
		return model.Admission{Reason: model.ReasonNoPolicy}
	}

	s := v.status(tenantID)
	switch {
	case !s.CanProceed:
		return model.Admission{Reason: model.ReasonRestrictiveMode}
	case s.CumulativeValue+inc > v.policy.HardLimit:
		return model.Admission{Reason: model.ReasonWouldExceedLimit}
	case v.policy.WindowLimit > 0 && s.WindowedValue+inc > v.policy.WindowLimit:
		return model.Admission{Reason: model.ReasonWouldExceedWindowLimit}
	}
	return model.Admission{Allowed: true}
}
