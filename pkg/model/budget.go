package model

// BudgetConfig is the budget-style shorthand for a three-tier policy with a
// monthly accumulation period and a daily window.
type BudgetConfig struct {
	MonthlyLimit      float64 `json:"monthly_limit" yaml:"monthly_limit" mapstructure:"monthly_limit"`
	DailyLimit        float64 `json:"daily_limit,omitempty" yaml:"daily_limit" mapstructure:"daily_limit"`
	WarningThreshold  float64 `json:"warning_threshold,omitempty" yaml:"warning_threshold" mapstructure:"warning_threshold"`
	CriticalThreshold float64 `json:"critical_threshold,omitempty" yaml:"critical_threshold" mapstructure:"critical_threshold"`
	ReadOnlyThreshold float64 `json:"read_only_threshold,omitempty" yaml:"read_only_threshold" mapstructure:"read_only_threshold"`
	AutoReadOnly      *bool   `json:"auto_read_only,omitempty" yaml:"auto_read_only" mapstructure:"auto_read_only"`
	GracePeriodHours  float64 `json:"grace_period_hours,omitempty" yaml:"grace_period_hours" mapstructure:"grace_period_hours"`
}

// Policy expands the budget into a ThresholdPolicy. Zero thresholds take the
// DefaultPolicy fractions and a nil AutoReadOnly means true.
func (b BudgetConfig) Policy() ThresholdPolicy {
	p := DefaultPolicy(b.MonthlyLimit)
	p.WindowLimit = b.DailyLimit
	for i, f := range []float64{b.WarningThreshold, b.CriticalThreshold, b.ReadOnlyThreshold} {
		if f != 0 {
			p.Limits[i].Fraction = f
		}
	}
	if b.AutoReadOnly != nil {
		p.AutoRestrict = *b.AutoReadOnly
	}
	if b.GracePeriodHours != 0 {
		p.GracePeriodHours = b.GracePeriodHours
	}
	return p
}
