package monitor_test

import (
	"math"
	"testing"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGracePeriod_OverridesRestriction(t *testing.T) {
	m, clk := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)

	require.NoError(t, m.ActivateRestrictiveMode("acme", "manual"))
	assert.False(t, m.GetStatus("acme").CanProceed)

	require.NoError(t, m.ActivateGracePeriod("acme", 24))
	st := m.GetStatus("acme")
	assert.True(t, st.CanProceed)
	assert.True(t, st.RestrictiveActive, "grace must not clear the restrictive flag")
	assert.True(t, st.GraceActive)
	require.NotNil(t, st.GraceEndsAt)
	assert.Equal(t, t0.Add(24*time.Hour), *st.GraceEndsAt)

	clk.Advance(24*time.Hour + time.Second)
	st = m.GetStatus("acme")
	assert.False(t, st.CanProceed)
	assert.False(t, st.GraceActive)
	assert.Nil(t, st.GraceEndsAt)
}

func TestGracePeriod_DefaultsAndLastWriteWins(t *testing.T) {
	m, clk := newTestMonitor(t)
	pol := budgetPolicy(100)
	pol.GracePeriodHours = 2
	_, err := m.SetPolicy("acme", pol)
	require.NoError(t, err)
	require.NoError(t, m.ActivateRestrictiveMode("acme", "manual"))

	require.NoError(t, m.ActivateGracePeriod("acme", 0))
	assert.Equal(t, t0.Add(2*time.Hour), *m.GetStatus("acme").GraceEndsAt)

	clk.Advance(time.Hour)
	require.NoError(t, m.ActivateGracePeriod("acme", 0.5))
	assert.Equal(t, t0.Add(90*time.Minute), *m.GetStatus("acme").GraceEndsAt, "a shorter grace replaces the longer one")
}

func TestGracePeriod_RejectsUnrepresentableDuration(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)
	require.NoError(t, m.ActivateRestrictiveMode("acme", "manual"))

	for _, hours := range []float64{1e7, math.Inf(1), math.NaN()} {
		err := m.ActivateGracePeriod("acme", hours)
		require.ErrorIs(t, err, model.ErrInvalidRequest, "hours=%v", hours)
	}
	st := m.GetStatus("acme")
	assert.False(t, st.GraceActive)
	assert.False(t, st.CanProceed)

	require.NoError(t, m.ActivateGracePeriod("acme", model.MaxGracePeriodHours))
	st = m.GetStatus("acme")
	assert.True(t, st.CanProceed)
	require.NotNil(t, st.GraceEndsAt)
	assert.Equal(t, t0.Add(model.MaxGracePeriodHours*time.Hour), *st.GraceEndsAt)

	pol := budgetPolicy(100)
	pol.GracePeriodHours = 1e7
	_, err = m.SetPolicy("acme", pol)
	require.ErrorIs(t, err, model.ErrInvalidPolicy)
}

func TestGracePeriod_NoPolicy(t *testing.T) {
	m, _ := newTestMonitor(t)
	require.ErrorIs(t, m.ActivateGracePeriod("ghost", 1), model.ErrPolicyNotFound)
	require.ErrorIs(t, m.ActivateRestrictiveMode("ghost", "x"), model.ErrPolicyNotFound)
	require.ErrorIs(t, m.DeactivateRestrictiveMode("ghost", "x"), model.ErrPolicyNotFound)
}

func TestActivateRestrictiveMode_Idempotent(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)

	require.NoError(t, m.ActivateRestrictiveMode("acme", "first"))
	require.NoError(t, m.ActivateRestrictiveMode("acme", "second"))

	alerts := m.Alerts("acme")
	require.Len(t, alerts, 1)
	assert.Equal(t, model.TierRestrictiveActivated, alerts[0].Tier)
	assert.Equal(t, "restrictive mode activated: first", alerts[0].Message)

	snap := m.Snapshot()
	require.Len(t, snap.Tenants, 1)
	r := snap.Tenants[0].Restrictive
	assert.Equal(t, "first", r.Reason)
	assert.False(t, r.Automatic)
}

func TestDeactivateRestrictiveMode_Idempotent(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)
	require.NoError(t, m.ActivateRestrictiveMode("acme", "manual"))
	require.NoError(t, m.ActivateGracePeriod("acme", 1))

	require.NoError(t, m.DeactivateRestrictiveMode("acme", "resolved"))
	first := m.Snapshot().Tenants[0]
	assert.Equal(t, model.RestrictiveState{}, first.Restrictive, "deactivation clears grace too")

	require.NoError(t, m.DeactivateRestrictiveMode("acme", "resolved"))
	second := m.Snapshot().Tenants[0]
	assert.Equal(t, first, second)
	assert.True(t, m.GetStatus("acme").CanProceed)
}

func TestAcknowledgeAlert_WriteOnce(t *testing.T) {
	m, clk := newTestMonitor(t)
	_, err := m.SetPolicy("acme", budgetPolicy(100))
	require.NoError(t, err)
	report(t, m, "acme", 75)

	alerts := m.ActiveAlerts("acme")
	require.Len(t, alerts, 1)
	id := alerts[0].ID

	assert.False(t, m.AcknowledgeAlert("acme", "missing", "ops"))
	assert.False(t, m.AcknowledgeAlert("ghost", id, "ops"))

	assert.True(t, m.AcknowledgeAlert("acme", id, "alice"))
	clk.Advance(time.Minute)
	assert.True(t, m.AcknowledgeAlert("acme", id, "bob"))

	got := m.Alerts("acme")
	require.Len(t, got, 1)
	assert.True(t, got[0].Acknowledged)
	assert.Equal(t, "alice", got[0].AcknowledgedBy)
	require.NotNil(t, got[0].AcknowledgedAt)
	assert.Equal(t, t0, *got[0].AcknowledgedAt)
	assert.Empty(t, m.ActiveAlerts("acme"))
}
