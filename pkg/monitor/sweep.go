package monitor

import (
	"context"
	"time"
)

// Sweep rolls every tenant whose window or period has ended and returns the
// number of tenants that changed.
func (m *Monitor) Sweep() int {
	rolled := 0
	for _, t := range m.snapshotTenants() {
		t.mu.Lock()
		if pol := m.effectivePolicy(t); pol != nil && m.applyRoll(t, pol, m.clock.Now()) {
			rolled++
		}
		t.mu.Unlock()
	}
	if rolled > 0 {
		m.logger.Debug("rollover sweep", "tenants", rolled)
	}
	return rolled
}

// PruneAlerts drops alerts older than the retention window and returns how
// many were removed.
func (m *Monitor) PruneAlerts() int {
	cutoff := m.clock.Now().Add(-m.retention)
	pruned := 0
	for _, t := range m.snapshotTenants() {
		t.mu.Lock()
		kept := t.state.alerts[:0:0]
		for _, a := range t.state.alerts {
			if a.Timestamp.Before(cutoff) {
				continue
			}
			kept = append(kept, a)
		}
		pruned += len(t.state.alerts) - len(kept)
		t.state.alerts = kept
		t.mu.Unlock()
	}

	m.metrics.ObservePruned(pruned)
	if pruned > 0 {
		m.logger.Info("alerts pruned", "count", pruned, "cutoff", cutoff)
	}
	return pruned
}

// Start runs Sweep and PruneAlerts on their intervals until ctx is cancelled
// or Stop is called. Each job runs once immediately. Calling Start on a
// running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go m.runForever(ctx, m.sweepInterval, func() { m.Sweep() })
	go m.runForever(ctx, m.pruneInterval, func() { m.PruneAlerts() })

	m.logger.Info("monitor started",
		"sweep_interval", m.sweepInterval,
		"prune_interval", m.pruneInterval,
	)
}

// Stop cancels the background jobs and waits for them to exit.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

func (m *Monitor) runForever(ctx context.Context, every time.Duration, job func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		job()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
