package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *storage.SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_ReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "guardian.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.RecordUsage(context.Background(), &model.UsageRecord{TenantID: "acme", Amount: 1}))
	require.NoError(t, db.Close())

	db, err = storage.NewSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()

	records, err := db.QueryUsage(context.Background(), model.ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLite_RecordUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	record := &model.UsageRecord{
		TenantID:     "acme",
		Provider:     "openai",
		Model:        "gpt-4o",
		User:         "alice",
		Feature:      "chat",
		InputTokens:  1000,
		OutputTokens: 500,
		Amount:       0.0075,
	}

	err := db.RecordUsage(ctx, record)
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.Timestamp.IsZero())

	got, err := db.QueryUsage(ctx, model.ReportFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].User)
	assert.Equal(t, "chat", got[0].Feature)
	assert.InDelta(t, 0.0075, got[0].Amount, 1e-12)
}

func TestSQLite_RecordUsage_RequiresTenant(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordUsage(context.Background(), &model.UsageRecord{Amount: 1})
	require.ErrorIs(t, err, model.ErrTenantRequired)
}

func TestSQLite_QueryUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	records := []*model.UsageRecord{
		{TenantID: "acme", Provider: "openai", Model: "gpt-4o", User: "alice", Amount: 0.001, Feature: "chat"},
		{TenantID: "acme", Provider: "openai", Model: "gpt-4o-mini", User: "bob", Amount: 0.0001, Feature: "search"},
		{TenantID: "globex", Provider: "anthropic", Model: "claude-sonnet-4", Amount: 0.003, Feature: "chat"},
	}
	for _, r := range records {
		require.NoError(t, db.RecordUsage(ctx, r))
	}

	tests := []struct {
		name   string
		filter model.ReportFilter
		want   int
	}{
		{"all", model.ReportFilter{}, 3},
		{"tenant", model.ReportFilter{TenantID: "acme"}, 2},
		{"provider", model.ReportFilter{Provider: "openai"}, 2},
		{"model", model.ReportFilter{Model: "gpt-4o-mini"}, 1},
		{"feature", model.ReportFilter{Feature: "chat"}, 2},
		{"user", model.ReportFilter{User: "bob"}, 1},
		{"limit", model.ReportFilter{Limit: 2}, 2},
		{"tenant and feature", model.ReportFilter{TenantID: "globex", Feature: "chat"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.QueryUsage(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestSQLite_QueryUsage_TimeFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.RecordUsage(ctx, &model.UsageRecord{TenantID: "acme", Amount: 1, Timestamp: now}))

	results, err := db.QueryUsage(ctx, model.ReportFilter{
		StartTime: now.Add(-1 * time.Hour),
		EndTime:   now.Add(1 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, now, results[0].Timestamp)

	results, err = db.QueryUsage(ctx, model.ReportFilter{
		StartTime: now.Add(1 * time.Hour),
		EndTime:   now.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLite_AggregateUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	records := []*model.UsageRecord{
		{TenantID: "acme", Provider: "openai", Model: "gpt-4o", User: "alice", InputTokens: 100, OutputTokens: 50, Amount: 1.00, Feature: "chat"},
		{TenantID: "acme", Provider: "openai", Model: "gpt-4o", InputTokens: 200, OutputTokens: 100, Amount: 2.00},
		{TenantID: "acme", Provider: "anthropic", Model: "claude-sonnet-4", User: "alice", InputTokens: 300, OutputTokens: 150, Amount: 3.00, Feature: "chat"},
		{TenantID: "globex", Provider: "openai", Model: "gpt-4o", Amount: 100},
	}
	for _, r := range records {
		require.NoError(t, db.RecordUsage(ctx, r))
	}

	summary, err := db.AggregateUsage(ctx, model.ReportFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.InDelta(t, 6.00, summary.TotalAmount, 0.001)
	assert.Equal(t, int64(600), summary.TotalInputTokens)
	assert.Equal(t, int64(300), summary.TotalOutputTokens)
	assert.Equal(t, int64(3), summary.RecordCount)
	assert.InDelta(t, 3.00, summary.ByProvider["openai"], 0.001)
	assert.InDelta(t, 3.00, summary.ByProvider["anthropic"], 0.001)
	assert.InDelta(t, 3.00, summary.ByModel["gpt-4o"], 0.001)
	assert.Equal(t, map[string]float64{"chat": 4.00}, summary.ByFeature)
	assert.Equal(t, map[string]float64{"alice": 4.00}, summary.ByUser)

	summary, err = db.AggregateUsage(ctx, model.ReportFilter{TenantID: "acme", User: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.RecordCount)
	assert.InDelta(t, 4.00, summary.TotalAmount, 0.001)
}

func TestSQLite_QueryUsage_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, db.RecordUsage(ctx, &model.UsageRecord{
			TenantID: "acme", Amount: float64(i + 1), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := db.QueryUsage(ctx, model.ReportFilter{TenantID: "acme", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Amount)
	assert.Equal(t, 2.0, got[1].Amount)
}

func TestSQLite_AggregateUsage_Empty(t *testing.T) {
	db := newTestDB(t)
	summary, err := db.AggregateUsage(context.Background(), model.ReportFilter{TenantID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.RecordCount)
	assert.Equal(t, 0.0, summary.TotalAmount)
	assert.Empty(t, summary.ByModel)
}
