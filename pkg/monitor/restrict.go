package monitor

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
)

// ActivateRestrictiveMode blocks the tenant until it is deactivated or a
// grace period is granted. Activating an active tenant only logs.
func (m *Monitor) ActivateRestrictiveMode(tenantID, reason string) error {
	return m.withTenant(tenantID, func(t *tenant, pol *model.ThresholdPolicy, now time.Time) error {
		if t.state.restrict.Active {
			m.logger.Info("restrictive mode already active", "tenant", tenantID, "reason", reason)
			return nil
		}
		if reason == "" {
			reason = "manual activation"
		}
		m.activate(t, pol, now, reason, false)
		return nil
	})
}

// DeactivateRestrictiveMode lifts restrictive mode and any grace period.
// Calling it on an unrestricted tenant is a no-op.
func (m *Monitor) DeactivateRestrictiveMode(tenantID, reason string) error {
	return m.withTenant(tenantID, func(t *tenant, _ *model.ThresholdPolicy, _ time.Time) error {
		r := t.state.restrict
		if !r.Active && !r.GraceActive {
			m.logger.Debug("restrictive mode already inactive", "tenant", tenantID)
			return nil
		}
		if r.Active {
			m.metrics.AddRestrictive(-1)
		}
		t.state.restrict = model.RestrictiveState{}
		m.logger.Info("restrictive mode deactivated", "tenant", tenantID, "reason", reason)
		return nil
	})
}

// ActivateGracePeriod lets a restricted tenant proceed for the given number
// of hours. Zero or negative hours use the policy's grace period; more than
// model.MaxGracePeriodHours is rejected. A new grace period replaces the
// previous one.
func (m *Monitor) ActivateGracePeriod(tenantID string, hours float64) error {
	if math.IsNaN(hours) || hours > model.MaxGracePeriodHours {
		return fmt.Errorf("%w: grace period must be at most %d hours, got %v",
			model.ErrInvalidRequest, model.MaxGracePeriodHours, hours)
	}
	return m.withTenant(tenantID, func(t *tenant, pol *model.ThresholdPolicy, now time.Time) error {
		if hours <= 0 {
			hours = pol.GracePeriodHours
		}
		endsAt := now.Add(time.Duration(hours * float64(time.Hour)))
		t.state.restrict.GraceActive = true
		t.state.restrict.GraceEndsAt = &endsAt

		m.logger.Info("grace period activated",
			"tenant", tenantID,
			"hours", hours,
			"ends_at", endsAt,
		)
		return nil
	})
}

// AcknowledgeAlert marks an alert as acknowledged by actor. It returns false
// when the alert does not exist. The first acknowledgment wins; later calls
// return true and leave the recorded actor and time unchanged.
func (m *Monitor) AcknowledgeAlert(tenantID, alertID, actor string) bool {
	t := m.lookup(tenantID)
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slices.IndexFunc(t.state.alerts, func(a model.Alert) bool { return a.ID == alertID })
	if idx < 0 {
		return false
	}
	a := &t.state.alerts[idx]
	if a.Acknowledged {
		return true
	}

	now := m.clock.Now()
	a.Acknowledged = true
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &now

	m.logger.Info("alert acknowledged", "tenant", tenantID, "alert", alertID, "actor", actor)
	return true
}

// Alerts returns the tenant's alerts in emission order.
func (m *Monitor) Alerts(tenantID string) []model.Alert {
	return m.alerts(tenantID, false)
}

// ActiveAlerts returns the tenant's unacknowledged alerts.
func (m *Monitor) ActiveAlerts(tenantID string) []model.Alert {
	return m.alerts(tenantID, true)
}

func (m *Monitor) alerts(tenantID string, activeOnly bool) []model.Alert {
	t := m.lookup(tenantID)
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Alert, 0, len(t.state.alerts))
	for _, a := range t.state.alerts {
		if activeOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	return out
}
