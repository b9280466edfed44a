package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const recordColumns = "id, tenant_id, provider, model, user_id, feature, input_tokens, output_tokens, amount, timestamp"

// SQLite implements the Storage interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets report queries run while the syncer writes snapshots.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// RecordUsage appends one ledger entry, filling in a missing ID and timestamp.
func (s *SQLite) RecordUsage(ctx context.Context, record *model.UsageRecord) error {
	if record.TenantID == "" {
		return model.ErrTenantRequired
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO usage_records ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		record.ID, record.TenantID, record.Provider, record.Model, record.User, record.Feature,
		record.InputTokens, record.OutputTokens, record.Amount, record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// QueryUsage returns matching ledger entries, newest first.
func (s *SQLite) QueryUsage(ctx context.Context, filter model.ReportFilter) ([]model.UsageRecord, error) {
	where, args := buildWhereClause(filter)
	query := "SELECT " + recordColumns + " FROM usage_records" + where + " ORDER BY timestamp DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []model.UsageRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (model.UsageRecord, error) {
	var r model.UsageRecord
	if err := rows.Scan(&r.ID, &r.TenantID, &r.Provider, &r.Model, &r.User, &r.Feature,
		&r.InputTokens, &r.OutputTokens, &r.Amount, &r.Timestamp); err != nil {
		return r, fmt.Errorf("scan usage row: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

// AggregateUsage totals the matching ledger entries and breaks the amount
// down by provider, model, user and feature.
func (s *SQLite) AggregateUsage(ctx context.Context, filter model.ReportFilter) (*model.UsageSummary, error) {
	where, args := buildWhereClause(filter)

	summary := &model.UsageSummary{}
	err := s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(amount), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COUNT(*)
	FROM usage_records`+where, args...).Scan(
		&summary.TotalAmount,
		&summary.TotalInputTokens,
		&summary.TotalOutputTokens,
		&summary.RecordCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}

	for _, b := range []struct {
		column string
		dst    *map[string]float64
	}{
		{"provider", &summary.ByProvider},
		{"model", &summary.ByModel},
		{"user_id", &summary.ByUser},
		{"feature", &summary.ByFeature},
	} {
		if *b.dst, err = s.sumBy(ctx, b.column, where, args); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

// sumBy sums amount per distinct value of column. Empty values are skipped.
// column always comes from AggregateUsage, never from callers.
func (s *SQLite) sumBy(ctx context.Context, column, where string, args []any) (map[string]float64, error) {
	cond := column + " != ''"
	if where == "" {
		where = " WHERE " + cond
	} else {
		where += " AND " + cond
	}
	query := "SELECT " + column + ", SUM(amount) FROM usage_records" + where + " GROUP BY " + column

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var name string
		var total float64
		if err := rows.Scan(&name, &total); err != nil {
			return nil, fmt.Errorf("scan %s aggregate: %w", column, err)
		}
		result[name] = total
	}
	return result, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// buildWhereClause renders filter as " WHERE ..." (or "") plus its arguments.
func buildWhereClause(filter model.ReportFilter) (string, []any) {
	var conditions []string
	var args []any

	for _, eq := range []struct {
		column, value string
	}{
		{"tenant_id", filter.TenantID},
		{"provider", filter.Provider},
		{"model", filter.Model},
		{"user_id", filter.User},
		{"feature", filter.Feature},
	} {
		if eq.value != "" {
			conditions = append(conditions, eq.column+" = ?")
			args = append(args, eq.value)
		}
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.EndTime.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
