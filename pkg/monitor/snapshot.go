package monitor

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/econeura/usage-guardian/pkg/model"
)

// Snapshot returns a deep copy of all tenant state, sorted by tenant id.
// Only policies set explicitly for a tenant are included.
func (m *Monitor) Snapshot() model.Snapshot {
	tenants := m.snapshotTenants()
	slices.SortFunc(tenants, func(a, b *tenant) int { return cmp.Compare(a.id, b.id) })

	snap := model.Snapshot{
		TakenAt: m.clock.Now(),
		Tenants: make([]model.TenantSnapshot, 0, len(tenants)),
	}
	for _, t := range tenants {
		ts := model.TenantSnapshot{TenantID: t.id}
		if p := t.policy.Load(); p != nil {
			pol := p.Clone()
			ts.Policy = &pol
		}

		t.mu.Lock()
		ts.Usage = t.state.usage.Clone()
		ts.Restrictive = t.state.restrict
		ts.Alerts = slices.Clone(t.state.alerts)
		ts.LastFraction = t.state.lastFraction
		ts.History = slices.Clone(t.state.history)
		t.mu.Unlock()

		snap.Tenants = append(snap.Tenants, ts)
	}
	return snap
}

// Restore replaces all tenant state with snap. It is meant to run once at
// startup, before the monitor serves traffic. Nothing changes if snap holds
// an invalid policy or a duplicate tenant.
func (m *Monitor) Restore(snap model.Snapshot) error {
	tenants := make(map[string]*tenant, len(snap.Tenants))
	restricted := 0

	for _, ts := range snap.Tenants {
		if ts.TenantID == "" {
			return fmt.Errorf("restore: %w", model.ErrTenantRequired)
		}
		if _, dup := tenants[ts.TenantID]; dup {
			return fmt.Errorf("restore: duplicate tenant %q", ts.TenantID)
		}

		t := &tenant{id: ts.TenantID}
		if ts.Policy != nil {
			if err := ts.Policy.Validate(); err != nil {
				return fmt.Errorf("restore tenant %q: %w", ts.TenantID, err)
			}
			pol := ts.Policy.WithDefaults()
			t.policy.Store(&pol)
		}

		t.state = ledger{
			usage:        ts.Usage.Clone(),
			restrict:     ts.Restrictive,
			alerts:       slices.Clone(ts.Alerts),
			lastFraction: ts.LastFraction,
			history:      slices.Clone(ts.History),
		}
		t.state.usage.TenantID = ts.TenantID
		if ts.Restrictive.Active {
			restricted++
		}
		tenants[ts.TenantID] = t
	}

	m.mu.Lock()
	m.tenants = tenants
	m.mu.Unlock()

	m.metrics.SetRestrictive(float64(restricted))
	m.logger.Info("monitor state restored",
		"tenants", len(tenants),
		"restricted", restricted,
		"taken_at", snap.TakenAt,
	)
	return nil
}
