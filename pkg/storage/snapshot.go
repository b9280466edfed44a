package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
)

var snapshotTables = []string{
	"policies",
	"usage_states",
	"restrictive_states",
	"alerts",
	"window_history",
	"snapshot_meta",
}

// SaveSnapshot replaces every snapshot table. Either the whole snapshot is
// written or nothing changes.
func (s *SQLite) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range snapshotTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, ts := range snap.Tenants {
		if err := saveTenant(ctx, tx, ts); err != nil {
			return fmt.Errorf("save tenant %q: %w", ts.TenantID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshot_meta (id, taken_at) VALUES (1, ?)", snap.TakenAt.UTC()); err != nil {
		return fmt.Errorf("save snapshot time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func saveTenant(ctx context.Context, tx *sql.Tx, ts model.TenantSnapshot) error {
	if p := ts.Policy; p != nil {
		limits, err := json.Marshal(p.Limits)
		if err != nil {
			return fmt.Errorf("marshal limits: %w", err)
		}
		pol := p.WithDefaults()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policies (tenant_id, limits, hard_limit, window_limit, auto_restrict, grace_period_hours, period, window_period)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ts.TenantID, string(limits), pol.HardLimit, pol.WindowLimit, pol.AutoRestrict,
			pol.GracePeriodHours, string(pol.Period), string(pol.Window),
		); err != nil {
			return fmt.Errorf("insert policy: %w", err)
		}
	}

	u := ts.Usage
	byModel, byUser, byFeature, err := marshalBreakdowns(u)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_states (tenant_id, cumulative_value, windowed_value, peak_value, last_fraction,
		   period_start, window_start, updated_at, by_model, by_user, by_feature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.TenantID, u.CumulativeValue, u.WindowedValue, u.PeakValue, ts.LastFraction,
		u.PeriodStart.UTC(), u.WindowStart.UTC(), u.UpdatedAt.UTC(), byModel, byUser, byFeature,
	); err != nil {
		return fmt.Errorf("insert usage state: %w", err)
	}

	r := ts.Restrictive
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO restrictive_states (tenant_id, active, automatic, reason, activated_at, grace_active, grace_ends_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.TenantID, r.Active, r.Automatic, r.Reason, nullTime(r.ActivatedAt), r.GraceActive, nullTime(r.GraceEndsAt),
	); err != nil {
		return fmt.Errorf("insert restrictive state: %w", err)
	}

	for i, a := range ts.Alerts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alerts (id, seq, tenant_id, tier, severity, message, triggered_at_fraction, value, hard_limit,
			   timestamp, acknowledged, acknowledged_by, acknowledged_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, i, ts.TenantID, a.Tier, string(a.Severity), a.Message, a.TriggeredAtFraction, a.Value, a.HardLimit,
			a.Timestamp.UTC(), a.Acknowledged, a.AcknowledgedBy, nullTime(a.AcknowledgedAt),
		); err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}

	for i, p := range ts.History {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO window_history (tenant_id, seq, window_start, value) VALUES (?, ?, ?, ?)",
			ts.TenantID, i, p.Start.UTC(), p.Value,
		); err != nil {
			return fmt.Errorf("insert window history: %w", err)
		}
	}
	return nil
}

// LoadSnapshot reads the stored snapshot, ordered by tenant id.
func (s *SQLite) LoadSnapshot(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot

	err := s.db.QueryRowContext(ctx, "SELECT taken_at FROM snapshot_meta WHERE id = 1").Scan(&snap.TakenAt)
	if err != nil && err != sql.ErrNoRows {
		return snap, fmt.Errorf("load snapshot time: %w", err)
	}
	snap.TakenAt = snap.TakenAt.UTC()

	tenants, index, err := s.loadUsageStates(ctx)
	if err != nil {
		return snap, err
	}
	if err := s.loadPolicies(ctx, tenants, index); err != nil {
		return snap, err
	}
	if err := s.loadRestrictive(ctx, tenants, index); err != nil {
		return snap, err
	}
	if err := s.loadAlerts(ctx, tenants, index); err != nil {
		return snap, err
	}
	if err := s.loadHistory(ctx, tenants, index); err != nil {
		return snap, err
	}

	snap.Tenants = tenants
	return snap, nil
}

func (s *SQLite) loadUsageStates(ctx context.Context) ([]model.TenantSnapshot, map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, cumulative_value, windowed_value, peak_value, last_fraction,
		   period_start, window_start, updated_at, by_model, by_user, by_feature
		 FROM usage_states ORDER BY tenant_id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query usage states: %w", err)
	}
	defer rows.Close()

	var tenants []model.TenantSnapshot
	index := make(map[string]int)
	for rows.Next() {
		var (
			ts                         model.TenantSnapshot
			byModel, byUser, byFeature string
		)
		u := &ts.Usage
		if err := rows.Scan(&ts.TenantID, &u.CumulativeValue, &u.WindowedValue, &u.PeakValue, &ts.LastFraction,
			&u.PeriodStart, &u.WindowStart, &u.UpdatedAt, &byModel, &byUser, &byFeature); err != nil {
			return nil, nil, fmt.Errorf("scan usage state: %w", err)
		}
		u.TenantID = ts.TenantID
		u.PeriodStart, u.WindowStart, u.UpdatedAt = u.PeriodStart.UTC(), u.WindowStart.UTC(), u.UpdatedAt.UTC()
		if err := unmarshalBreakdowns(u, byModel, byUser, byFeature); err != nil {
			return nil, nil, fmt.Errorf("tenant %q: %w", ts.TenantID, err)
		}

		index[ts.TenantID] = len(tenants)
		tenants = append(tenants, ts)
	}
	return tenants, index, rows.Err()
}

func (s *SQLite) loadPolicies(ctx context.Context, tenants []model.TenantSnapshot, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, limits, hard_limit, window_limit, auto_restrict, grace_period_hours, period, window_period
		 FROM policies`)
	if err != nil {
		return fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tenantID, limits, period, window string
			p                                model.ThresholdPolicy
		)
		if err := rows.Scan(&tenantID, &limits, &p.HardLimit, &p.WindowLimit, &p.AutoRestrict,
			&p.GracePeriodHours, &period, &window); err != nil {
			return fmt.Errorf("scan policy: %w", err)
		}
		if err := json.Unmarshal([]byte(limits), &p.Limits); err != nil {
			return fmt.Errorf("decode limits for %q: %w", tenantID, err)
		}
		p.Period, p.Window = model.BudgetPeriod(period), model.BudgetPeriod(window)

		if i, ok := index[tenantID]; ok {
			tenants[i].Policy = &p
		}
	}
	return rows.Err()
}

func (s *SQLite) loadRestrictive(ctx context.Context, tenants []model.TenantSnapshot, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, active, automatic, reason, activated_at, grace_active, grace_ends_at
		 FROM restrictive_states`)
	if err != nil {
		return fmt.Errorf("query restrictive states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tenantID               string
			r                      model.RestrictiveState
			activatedAt, graceEnds sql.NullTime
		)
		if err := rows.Scan(&tenantID, &r.Active, &r.Automatic, &r.Reason, &activatedAt,
			&r.GraceActive, &graceEnds); err != nil {
			return fmt.Errorf("scan restrictive state: %w", err)
		}
		r.ActivatedAt = timePtr(activatedAt)
		r.GraceEndsAt = timePtr(graceEnds)

		if i, ok := index[tenantID]; ok {
			tenants[i].Restrictive = r
		}
	}
	return rows.Err()
}

func (s *SQLite) loadAlerts(ctx context.Context, tenants []model.TenantSnapshot, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, tier, severity, message, triggered_at_fraction, value, hard_limit,
		   timestamp, acknowledged, acknowledged_by, acknowledged_at
		 FROM alerts ORDER BY tenant_id, seq`)
	if err != nil {
		return fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a        model.Alert
			severity string
			ackAt    sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Tier, &severity, &a.Message, &a.TriggeredAtFraction,
			&a.Value, &a.HardLimit, &a.Timestamp, &a.Acknowledged, &a.AcknowledgedBy, &ackAt); err != nil {
			return fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = model.Severity(severity)
		a.Timestamp = a.Timestamp.UTC()
		a.AcknowledgedAt = timePtr(ackAt)

		if i, ok := index[a.TenantID]; ok {
			tenants[i].Alerts = append(tenants[i].Alerts, a)
		}
	}
	return rows.Err()
}

func (s *SQLite) loadHistory(ctx context.Context, tenants []model.TenantSnapshot, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tenant_id, window_start, value FROM window_history ORDER BY tenant_id, seq")
	if err != nil {
		return fmt.Errorf("query window history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tenantID string
			p        model.WindowPoint
		)
		if err := rows.Scan(&tenantID, &p.Start, &p.Value); err != nil {
			return fmt.Errorf("scan window history: %w", err)
		}
		p.Start = p.Start.UTC()

		if i, ok := index[tenantID]; ok {
			tenants[i].History = append(tenants[i].History, p)
		}
	}
	return rows.Err()
}

func marshalBreakdowns(u model.UsageState) (byModel, byUser, byFeature string, err error) {
	out := make([]string, 3)
	for i, m := range []map[string]float64{u.ByModel, u.ByUser, u.ByFeature} {
		b, err := json.Marshal(m)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal breakdown: %w", err)
		}
		out[i] = string(b)
	}
	return out[0], out[1], out[2], nil
}

func unmarshalBreakdowns(u *model.UsageState, byModel, byUser, byFeature string) error {
	for _, f := range []struct {
		raw string
		dst *map[string]float64
	}{
		{byModel, &u.ByModel},
		{byUser, &u.ByUser},
		{byFeature, &u.ByFeature},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
