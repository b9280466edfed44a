package model_test

import (
	"testing"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetConfig_PolicyDefaults(t *testing.T) {
	p := model.BudgetConfig{MonthlyLimit: 1000, DailyLimit: 50}.Policy()

	require.NoError(t, p.Validate())
	assert.Equal(t, 1000.0, p.HardLimit)
	assert.Equal(t, 50.0, p.WindowLimit)
	assert.True(t, p.AutoRestrict)
	assert.Equal(t, float64(model.DefaultGracePeriodHours), p.GracePeriodHours)
	assert.Equal(t, model.DefaultPolicy(1000).Limits, p.Limits)
}

func TestBudgetConfig_PolicyOverrides(t *testing.T) {
	off := false
	p := model.BudgetConfig{
		MonthlyLimit:      200,
		WarningThreshold:  0.5,
		CriticalThreshold: 0.8,
		ReadOnlyThreshold: 1,
		AutoReadOnly:      &off,
		GracePeriodHours:  2,
	}.Policy()

	require.NoError(t, p.Validate())
	assert.Equal(t, []model.Limit{
		{Name: model.TierWarning, Fraction: 0.5},
		{Name: model.TierCritical, Fraction: 0.8},
		{Name: model.TierRestrictive, Fraction: 1},
	}, p.Limits)
	assert.False(t, p.AutoRestrict)
	assert.Equal(t, 2.0, p.GracePeriodHours)
}

func TestBudgetConfig_NonMonotonicFailsValidation(t *testing.T) {
	p := model.BudgetConfig{MonthlyLimit: 100, WarningThreshold: 0.95}.Policy()
	assert.ErrorIs(t, p.Validate(), model.ErrInvalidPolicy)
}
