package tracker_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/econeura/usage-guardian/pkg/clock"
	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/monitor"
	"github.com/econeura/usage-guardian/pkg/storage"
	"github.com/econeura/usage-guardian/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T) (*tracker.Tracker, *monitor.Monitor, storage.Storage) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clk := clock.NewFake(now)

	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mon, err := monitor.New(monitor.WithClock(clk), monitor.WithLogger(logger))
	require.NoError(t, err)
	_, err = mon.SetPolicy("acme", model.DefaultPolicy(0.01))
	require.NoError(t, err)

	tr := tracker.New(newTestRegistry(t), store, mon, logger, tracker.WithClock(clk))
	return tr, mon, store
}

func TestTracker_Track(t *testing.T) {
	tr, mon, store := newTestTracker(t)
	ctx := context.Background()

	res, err := tr.Track(ctx, tracker.TrackRequest{
		TenantID:     "acme",
		Provider:     "openai",
		Model:        "gpt-4o",
		User:         "alice",
		Feature:      "chat",
		InputTokens:  1000,
		OutputTokens: 500,
	})
	require.NoError(t, err)

	want := (2.50*1000 + 10.00*500) / 1_000_000
	assert.True(t, res.Stored)
	assert.NotEmpty(t, res.Record.ID)
	assert.Equal(t, now, res.Record.Timestamp)
	assert.InDelta(t, want, res.Record.Amount, 1e-12)
	assert.InDelta(t, want, res.State.CumulativeValue, 1e-12)
	assert.InDelta(t, want, res.State.ByUser["alice"], 1e-12)

	records, err := store.QueryUsage(ctx, model.ReportFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.Record, records[0])

	// 0.0075 of 0.01 crosses the 70% warning tier.
	assert.Equal(t, []string{model.TierWarning}, alertTiers(mon.Alerts("acme")))
}

func TestTracker_Track_PresetAmount(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	res, err := tr.Track(context.Background(), tracker.TrackRequest{
		TenantID:     "acme",
		Model:        "unpriced-model",
		InputTokens:  10,
		OutputTokens: 10,
		Amount:       0.001,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.001, res.Record.Amount)
}

func TestTracker_Track_CachedTokens(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	res, err := tr.Track(context.Background(), tracker.TrackRequest{
		TenantID:          "acme",
		Model:             "claude-3.5-sonnet",
		InputTokens:       1000,
		CachedInputTokens: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", res.Record.Provider, "provider resolved from the model")
	assert.Equal(t, int64(2000), res.Record.InputTokens)
	assert.InDelta(t, (3.00*1000+0.30*1000)/1_000_000, res.Record.Amount, 1e-12)
}

func TestTracker_Track_Rejected(t *testing.T) {
	tr, _, store := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Track(ctx, tracker.TrackRequest{Amount: 1})
	require.ErrorIs(t, err, model.ErrTenantRequired)

	_, err = tr.Track(ctx, tracker.TrackRequest{TenantID: "globex", Amount: 0.001})
	require.ErrorIs(t, err, model.ErrPolicyNotFound)

	_, err = tr.Track(ctx, tracker.TrackRequest{TenantID: "acme", Amount: -1})
	require.ErrorIs(t, err, model.ErrInvalidUsage)

	_, err = tr.Track(ctx, tracker.TrackRequest{TenantID: "acme", Provider: "openai", Model: "gpt-9", InputTokens: 1})
	require.Error(t, err)

	records, err := store.QueryUsage(ctx, model.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, records, "rejected calls are not written to the ledger")
}

func TestTracker_Track_LedgerFailureKeepsMonitorCount(t *testing.T) {
	tr, mon, store := newTestTracker(t)
	require.NoError(t, store.Close())

	res, err := tr.Track(context.Background(), tracker.TrackRequest{TenantID: "acme", Amount: 0.005})
	require.NoError(t, err, "a retry after an error would count the call twice")
	assert.False(t, res.Stored)
	assert.InDelta(t, 0.005, res.State.CumulativeValue, 1e-12)
	assert.InDelta(t, 0.005, mon.GetStatus("acme").CumulativeValue, 1e-12)
}

func TestTracker_Admit(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	req := tracker.EstimateRequest{Model: "claude-3.5-sonnet", Prompt: "0123456789012345678901234567890123456789", MaxOutputTokens: 100}
	est, adm, err := tr.Admit(ctx, "acme", req)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.InDelta(t, (3.00*10+15.00*100)/1_000_000, est.Cost, 1e-12)

	_, err = tr.Track(ctx, tracker.TrackRequest{TenantID: "acme", Amount: 0.009})
	require.NoError(t, err)

	_, adm, err = tr.Admit(ctx, "acme", req)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, model.ReasonWouldExceedLimit, adm.Reason)

	_, adm, err = tr.Admit(ctx, "globex", req)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonNoPolicy, adm.Reason)

	_, _, err = tr.Admit(ctx, "acme", tracker.EstimateRequest{Model: "unknown"})
	assert.Error(t, err)
}

func TestTracker_SummaryAndQuery(t *testing.T) {
	tr, _, store := newTestTracker(t)
	ctx := context.Background()

	// Last month's record falls outside the monthly summary.
	require.NoError(t, store.RecordUsage(ctx, &model.UsageRecord{
		TenantID: "acme", Model: "gpt-4o", Amount: 5, Timestamp: now.AddDate(0, -1, 0),
	}))
	for _, amount := range []float64{0.001, 0.002} {
		_, err := tr.Track(ctx, tracker.TrackRequest{TenantID: "acme", Model: "gpt-4o", Feature: "chat", Amount: amount})
		require.NoError(t, err)
	}

	summary, err := tr.Summary(ctx, "acme", model.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.RecordCount)
	assert.InDelta(t, 0.003, summary.TotalAmount, 1e-12)
	assert.InDelta(t, 0.003, summary.ByFeature["chat"], 1e-12)

	all, err := tr.Report(ctx, model.ReportFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.RecordCount)

	records, err := tr.Query(ctx, model.ReportFilter{TenantID: "acme", Feature: "chat"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = tr.Summary(ctx, "acme", "yearly")
	assert.ErrorIs(t, err, tracker.ErrInvalidRequest)
	_, err = tr.Summary(ctx, "", model.PeriodDaily)
	assert.ErrorIs(t, err, model.ErrTenantRequired)
}

func alertTiers(alerts []model.Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Tier)
	}
	return out
}
