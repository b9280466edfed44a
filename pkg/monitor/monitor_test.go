package monitor_test

import (
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/econeura/usage-guardian/pkg/clock"
	"github.com/econeura/usage-guardian/pkg/metrics"
	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday, mid-month.
var t0 = time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T, opts ...monitor.Option) (*monitor.Monitor, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	base := []monitor.Option{monitor.WithClock(clk), monitor.WithLogger(logger)}
	m, err := monitor.New(append(base, opts...)...)
	require.NoError(t, err)
	return m, clk
}

func budgetPolicy(hardLimit float64) model.ThresholdPolicy {
	return model.DefaultPolicy(hardLimit)
}

func report(t *testing.T, m *monitor.Monitor, tenant string, delta float64) model.UsageState {
	t.Helper()
	u, err := m.ReportUsage(tenant, model.UsageReport{Delta: delta})
	require.NoError(t, err)
	return u
}

func tiers(alerts []model.Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Tier)
	}
	return out
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := monitor.New(monitor.WithDefaultPolicy(model.ThresholdPolicy{HardLimit: 10}))
	require.ErrorIs(t, err, model.ErrInvalidPolicy)

	_, err = monitor.New(monitor.WithSweepInterval(0))
	require.Error(t, err)

	_, err = monitor.New(monitor.WithHistoryLimit(-1))
	require.Error(t, err)
}

func TestSetPolicy_RejectsNonMonotonic(t *testing.T) {
	m, _ := newTestMonitor(t)

	_, err := m.SetPolicy("acme", model.ThresholdPolicy{
		HardLimit: 100,
		Limits: []model.Limit{
			{Name: "warning", Fraction: 0.9},
			{Name: "critical", Fraction: 0.7},
		},
	})
	require.ErrorIs(t, err, model.ErrInvalidPolicy)

	_, ok := m.Policy("acme")
	assert.False(t, ok, "rejected policy must not be stored")
	assert.Empty(t, m.Tenants())
}

func TestSetPolicy_RequiresTenant(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("", budgetPolicy(100))
	require.ErrorIs(t, err, model.ErrTenantRequired)
}

func TestSetPolicy_ReplacesWholesale(t *testing.T) {
	m, _ := newTestMonitor(t)

	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)

	got, err := m.SetPolicy("acme", model.ThresholdPolicy{
		HardLimit: 50,
		Limits:    []model.Limit{{Name: "quota", Fraction: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PeriodMonthly, got.Period)
	assert.Equal(t, model.PeriodDaily, got.Window)
	assert.False(t, got.AutoRestrict)

	pol, ok := m.Policy("acme")
	require.True(t, ok)
	assert.Len(t, pol.Limits, 1)
	assert.Equal(t, 50.0, pol.HardLimit)
}

func TestSetPolicy_RebaselinesTiers(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)
	_, err = m.SetPolicy("globex", budgetPolicy(100))
	require.NoError(t, err)

	report(t, m, "acme", 75)
	report(t, m, "globex", 60)
	require.Equal(t, []string{model.TierWarning}, tiers(m.Alerts("acme")))
	require.Empty(t, m.Alerts("globex"))

	lowered := budgetPolicy(100)
	lowered.Limits[0].Fraction = 0.5
	lowered.Limits[1].Fraction = 0.74
	for _, tenant := range []string{"acme", "globex"} {
		_, err := m.SetPolicy(tenant, lowered)
		require.NoError(t, err)
		report(t, m, tenant, 1)
		report(t, m, tenant, 1)
	}

	assert.Equal(t, []string{model.TierWarning, model.TierCritical}, tiers(m.Alerts("acme")),
		"warning already fired this period and stays quiet")
	assert.Equal(t, []string{model.TierWarning}, tiers(m.Alerts("globex")),
		"a tier lowered under current usage fires once")
}

func TestReportUsage_ExampleScenario(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(1000))
	require.NoError(t, err)

	var got [][]string
	for _, delta := range []float64{200, 300, 220, 190, 50} {
		before := len(m.Alerts("acme"))
		report(t, m, "acme", delta)
		got = append(got, tiers(m.Alerts("acme")[before:]))
	}

	assert.Equal(t, [][]string{
		{},
		{},
		{model.TierWarning},
		{model.TierCritical},
		{model.TierRestrictiveActivated},
	}, got)

	st := m.GetStatus("acme")
	assert.True(t, st.RestrictiveActive)
	assert.False(t, st.CanProceed)
	assert.InDelta(t, 960.0, st.CumulativeValue, 1e-9)
	assert.Equal(t, model.TierRestrictive, st.Tier)
}

func TestReportUsage_EdgeTriggered(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", model.ThresholdPolicy{
		HardLimit: 100,
		Limits: []model.Limit{
			{Name: "warning", Fraction: 0.7},
			{Name: "critical", Fraction: 0.9},
		},
	})
	require.NoError(t, err)

	report(t, m, "acme", 50)
	report(t, m, "acme", 25)
	require.Equal(t, []string{"warning"}, tiers(m.Alerts("acme")))

	report(t, m, "acme", 0)
	assert.Len(t, m.Alerts("acme"), 1, "staying in a tier must not re-fire")
}

func TestReportUsage_NoRefireWithinTier(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", model.ThresholdPolicy{
		HardLimit: 100,
		Limits: []model.Limit{
			{Name: "warning", Fraction: 0.7},
			{Name: "critical", Fraction: 0.9},
		},
	})
	require.NoError(t, err)

	for _, delta := range []float64{10, 62, 2, 2} {
		report(t, m, "acme", delta)
	}

	alerts := m.Alerts("acme")
	require.Len(t, alerts, 1)
	assert.Equal(t, "warning", alerts[0].Tier)
	assert.InDelta(t, 0.72, alerts[0].TriggeredAtFraction, 1e-9)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
}

func TestReportUsage_MultiTierJumpFiresAscending(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)

	report(t, m, "acme", 96)

	alerts := m.Alerts("acme")
	assert.Equal(t, []string{model.TierWarning, model.TierCritical, model.TierRestrictiveActivated}, tiers(alerts))
	assert.Equal(t, []model.Severity{model.SeverityMedium, model.SeverityHigh, model.SeverityCritical},
		[]model.Severity{alerts[0].Severity, alerts[1].Severity, alerts[2].Severity})
	for _, a := range alerts {
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, "acme", a.TenantID)
		assert.Equal(t, t0, a.Timestamp)
	}
}

func TestReportUsage_AutoRestrictInSameCall(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)

	report(t, m, "acme", 94)
	assert.True(t, m.GetStatus("acme").CanProceed)

	report(t, m, "acme", 2)
	st := m.GetStatus("acme")
	assert.True(t, st.RestrictiveActive)
	assert.False(t, st.CanProceed)
}

func TestReportUsage_TopTierWithoutAutoRestrict(t *testing.T) {
	m, _ := newTestMonitor(t)
	pol := budgetPolicy(100)
	pol.AutoRestrict = false
	_, err := m.SetPolicy("acme", pol)
	require.NoError(t, err)

	report(t, m, "acme", 99)

	assert.Equal(t, []string{model.TierWarning, model.TierCritical, model.TierRestrictive}, tiers(m.Alerts("acme")))
	assert.False(t, m.GetStatus("acme").RestrictiveActive)
}

func TestReportUsage_TopTierWhileAlreadyRestricted(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)
	require.NoError(t, m.ActivateRestrictiveMode("acme", "fraud review"))

	report(t, m, "acme", 96)

	assert.Equal(t, []string{
		model.TierRestrictiveActivated,
		model.TierWarning,
		model.TierCritical,
		model.TierRestrictive,
	}, tiers(m.Alerts("acme")))
}

func TestReportUsage_ZeroHardLimit(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(0))
	require.NoError(t, err)

	report(t, m, "acme", 1e6)

	assert.Empty(t, m.Alerts("acme"))
	st := m.GetStatus("acme")
	assert.Equal(t, 0.0, st.Fraction)
	assert.Equal(t, model.TierSafe, st.Tier)
	assert.True(t, st.CanProceed)
}

func TestReportUsage_InvalidUsage(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)
	report(t, m, "acme", 10)

	_, err = m.ReportUsage("acme", model.UsageReport{Delta: -11})
	require.ErrorIs(t, err, model.ErrInvalidUsage)

	_, err = m.ReportUsage("acme", model.UsageReport{Delta: math.NaN()})
	require.ErrorIs(t, err, model.ErrInvalidUsage)

	_, err = m.ReportUsage("acme", model.UsageReport{Delta: math.Inf(1)})
	require.ErrorIs(t, err, model.ErrInvalidUsage)

	assert.InDelta(t, 10.0, m.GetStatus("acme").CumulativeValue, 1e-9, "rejected reports must not apply")

	u := report(t, m, "acme", -4)
	assert.InDelta(t, 6.0, u.CumulativeValue, 1e-9)
	assert.InDelta(t, 10.0, u.PeakValue, 1e-9)
}

func TestReportUsage_NoPolicy(t *testing.T) {
	m, _ := newTestMonitor(t)

	_, err := m.ReportUsage("ghost", model.UsageReport{Delta: 1})
	require.ErrorIs(t, err, model.ErrPolicyNotFound)
	assert.Empty(t, m.Tenants(), "a rejected report must not create the tenant")

	_, err = m.ReportUsage("", model.UsageReport{Delta: 1})
	require.ErrorIs(t, err, model.ErrTenantRequired)
}

func TestReportUsage_Breakdowns(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(1000))
	require.NoError(t, err)

	_, err = m.ReportUsage("acme", model.UsageReport{Delta: 5, Model: "gpt-4o", User: "alice", Feature: "chat"})
	require.NoError(t, err)
	u, err := m.ReportUsage("acme", model.UsageReport{Delta: 3, Model: "gpt-4o", User: "bob"})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"gpt-4o": 8}, u.ByModel)
	assert.Equal(t, map[string]float64{"alice": 5, "bob": 3}, u.ByUser)
	assert.Equal(t, map[string]float64{"chat": 5}, u.ByFeature)
	assert.InDelta(t, 8.0, u.WindowedValue, 1e-9)

	// The returned state is a copy.
	u.ByModel["gpt-4o"] = 0
	again := m.Snapshot().Tenants[0].Usage
	assert.Equal(t, 8.0, again.ByModel["gpt-4o"])
}

func TestReportUsage_ConcurrentReportsCommute(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(10000))
	require.NoError(t, err)
	_, err = m.SetPolicy("globex", budgetPolicy(10000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tenant := "acme"
			if i%2 == 1 {
				tenant = "globex"
			}
			_, err := m.ReportUsage(tenant, model.UsageReport{Delta: 1})
			assert.NoError(t, err)
			_ = m.GetStatus(tenant)
		}(i)
	}
	wg.Wait()

	assert.InDelta(t, 50.0, m.GetStatus("acme").CumulativeValue, 1e-9)
	assert.InDelta(t, 50.0, m.GetStatus("globex").CumulativeValue, 1e-9)
}

func TestReportUsage_SinkAndMetrics(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []model.Alert
	)
	sink := monitor.SinkFunc(func(a model.Alert) {
		mu.Lock()
		seen = append(seen, a)
		mu.Unlock()
	})
	mt := metrics.New(prometheus.NewRegistry())

	m, _ := newTestMonitor(t, monitor.WithSink(sink), monitor.WithMetrics(mt))
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)

	report(t, m, "acme", 96)

	mu.Lock()
	assert.Equal(t, tiers(m.Alerts("acme")), tiers(seen))
	mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.RestrictiveTenants))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Alerts.WithLabelValues(model.TierWarning)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.UsageReports.WithLabelValues("ok")))

	require.NoError(t, m.DeactivateRestrictiveMode("acme", "paid invoice"))
	assert.Equal(t, 0.0, testutil.ToFloat64(mt.RestrictiveTenants))
}

func TestGetStatus_NoPolicySentinel(t *testing.T) {
	m, _ := newTestMonitor(t)

	st := m.GetStatus("ghost")
	assert.False(t, st.HasPolicy)
	assert.Equal(t, model.TierNoPolicy, st.Tier)
	assert.False(t, st.CanProceed)
}

func TestGetStatus_DefaultPolicy(t *testing.T) {
	m, _ := newTestMonitor(t, monitor.WithDefaultPolicy(budgetPolicy(100)))

	st := m.GetStatus("newcomer")
	assert.True(t, st.HasPolicy)
	assert.Equal(t, model.TierSafe, st.Tier)
	assert.True(t, st.CanProceed)
	assert.Equal(t, 100.0, st.HardLimit)
	assert.Empty(t, m.Tenants(), "reads must not create tenants")

	report(t, m, "newcomer", 75)
	assert.Equal(t, []string{model.TierWarning}, tiers(m.Alerts("newcomer")))

	pol, ok := m.Policy("newcomer")
	require.True(t, ok)
	assert.Equal(t, 100.0, pol.HardLimit)
}

func TestCheckAdmission(t *testing.T) {
	m, _ := newTestMonitor(t)
	pol := budgetPolicy(1000)
	pol.AutoRestrict = false
	pol.WindowLimit = 950
	_, err := m.SetPolicy("acme", pol)
	require.NoError(t, err)
	report(t, m, "acme", 900)

	tests := []struct {
		name   string
		tenant string
		inc    float64
		want   model.Admission
	}{
		{"fits", "acme", 50, model.Admission{Allowed: true}},
		{"exact limit over window", "acme", 100, model.Admission{Reason: model.ReasonWouldExceedWindowLimit}},
		{"over hard limit", "acme", 150, model.Admission{Reason: model.ReasonWouldExceedLimit}},
		{"negative counts as zero", "acme", -500, model.Admission{Allowed: true}},
		{"nan counts as zero", "acme", math.NaN(), model.Admission{Allowed: true}},
		{"no policy", "ghost", 1, model.Admission{Reason: model.ReasonNoPolicy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.CheckAdmission(tt.tenant, tt.inc))
		})
	}

	require.NoError(t, m.ActivateRestrictiveMode("acme", "manual"))
	assert.Equal(t, model.Admission{Reason: model.ReasonRestrictiveMode}, m.CheckAdmission("acme", 0))
	assert.InDelta(t, 900.0, m.GetStatus("acme").CumulativeValue, 1e-9, "admission must not mutate")
}
