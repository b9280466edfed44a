package model

import (
	"fmt"
	"math"
	"slices"
)

// Tier names used by the default budget policy and by the monitor itself.
const (
	TierSafe                 = "safe"
	TierNoPolicy             = "no_policy"
	TierWarning              = "warning"
	TierCritical             = "critical"
	TierRestrictive          = "restrictive"
	TierRestrictiveActivated = "restrictive_activated"
)

const (
	// DefaultGracePeriodHours is applied when a policy leaves the grace period unset.
	DefaultGracePeriodHours = 24

	// MaxGracePeriodHours caps any grace period at one leap year.
	MaxGracePeriodHours = 366 * 24
)

// Limit is one named tier of a policy, expressed as a fraction of the hard limit.
type Limit struct {
	Name     string  `json:"name" yaml:"name" mapstructure:"name"`
	Fraction float64 `json:"fraction" yaml:"fraction" mapstructure:"fraction"`
}

// ThresholdPolicy is the tier configuration of a tenant. Limits are ordered by
// strictly increasing fraction; the last limit is the restrictive tier.
//
// GracePeriodHours is the length of a grace period granted without an
// explicit duration. Zero means DefaultGracePeriodHours: grace is only ever
// granted by an operator, so a policy has no way to switch it off.
type ThresholdPolicy struct {
	Limits           []Limit      `json:"limits" yaml:"limits" mapstructure:"limits"`
	HardLimit        float64      `json:"hard_limit" yaml:"hard_limit" mapstructure:"hard_limit"`
	WindowLimit      float64      `json:"window_limit,omitempty" yaml:"window_limit" mapstructure:"window_limit"`
	AutoRestrict     bool         `json:"auto_restrict" yaml:"auto_restrict" mapstructure:"auto_restrict"`
	GracePeriodHours float64      `json:"grace_period_hours" yaml:"grace_period_hours" mapstructure:"grace_period_hours"`
	Period           BudgetPeriod `json:"period" yaml:"period" mapstructure:"period"`
	Window           BudgetPeriod `json:"window" yaml:"window" mapstructure:"window"`
}

// DefaultPolicy returns the stock budget policy: warning at 70%, critical at
// 90%, restrictive at 95% with automatic restriction and a 24h grace period.
func DefaultPolicy(hardLimit float64) ThresholdPolicy {
	return ThresholdPolicy{
		Limits: []Limit{
			{Name: TierWarning, Fraction: 0.7},
			{Name: TierCritical, Fraction: 0.9},
			{Name: TierRestrictive, Fraction: 0.95},
		},
		HardLimit:        hardLimit,
		AutoRestrict:     true,
		GracePeriodHours: DefaultGracePeriodHours,
		Period:           PeriodMonthly,
		Window:           PeriodDaily,
	}
}

// WithDefaults returns a copy with empty periods filled in and a zero grace
// period replaced by DefaultGracePeriodHours.
func (p ThresholdPolicy) WithDefaults() ThresholdPolicy {
	out := p.Clone()
	if out.Period == "" {
		out.Period = PeriodMonthly
	}
	if out.Window == "" {
		out.Window = PeriodDaily
	}
	if out.GracePeriodHours == 0 {
		out.GracePeriodHours = DefaultGracePeriodHours
	}
	return out
}

// Clone returns a deep copy of the policy.
func (p ThresholdPolicy) Clone() ThresholdPolicy {
	p.Limits = slices.Clone(p.Limits)
	return p
}

// Validate checks the policy invariants.
func (p ThresholdPolicy) Validate() error {
	if len(p.Limits) == 0 {
		return fmt.Errorf("%w: at least one limit is required", ErrInvalidPolicy)
	}
	if !finite(p.HardLimit) || p.HardLimit < 0 {
		return fmt.Errorf("%w: hard limit must be >= 0, got %v", ErrInvalidPolicy, p.HardLimit)
	}
	if !finite(p.WindowLimit) || p.WindowLimit < 0 {
		return fmt.Errorf("%w: window limit must be >= 0, got %v", ErrInvalidPolicy, p.WindowLimit)
	}
	if !finite(p.GracePeriodHours) || p.GracePeriodHours < 0 || p.GracePeriodHours > MaxGracePeriodHours {
		return fmt.Errorf("%w: grace period must be within [0, %d] hours, got %v", ErrInvalidPolicy, MaxGracePeriodHours, p.GracePeriodHours)
	}

	seen := make(map[string]bool, len(p.Limits))
	for i, l := range p.Limits {
		if l.Name == "" {
			return fmt.Errorf("%w: limit %d has no name", ErrInvalidPolicy, i)
		}
		if l.Name == TierSafe || l.Name == TierNoPolicy || l.Name == TierRestrictiveActivated {
			return fmt.Errorf("%w: limit name %q is reserved", ErrInvalidPolicy, l.Name)
		}
		if seen[l.Name] {
			return fmt.Errorf("%w: duplicate limit name %q", ErrInvalidPolicy, l.Name)
		}
		seen[l.Name] = true

		if !finite(l.Fraction) || l.Fraction <= 0 || l.Fraction > 1 {
			return fmt.Errorf("%w: limit %q fraction %v outside (0,1]", ErrInvalidPolicy, l.Name, l.Fraction)
		}
		if i > 0 && l.Fraction <= p.Limits[i-1].Fraction {
			return fmt.Errorf("%w: limit %q fraction %v must exceed %q fraction %v",
				ErrInvalidPolicy, l.Name, l.Fraction, p.Limits[i-1].Name, p.Limits[i-1].Fraction)
		}
	}

	if p.Period != "" && !p.Period.Valid() {
		return fmt.Errorf("%w: unknown period %q", ErrInvalidPolicy, p.Period)
	}
	if p.Window != "" && !p.Window.Valid() {
		return fmt.Errorf("%w: unknown window %q", ErrInvalidPolicy, p.Window)
	}
	period, window := p.Period, p.Window
	if period == "" {
		period = PeriodMonthly
	}
	if window == "" {
		window = PeriodDaily
	}
	if window.rank() > period.rank() {
		return fmt.Errorf("%w: window %q is longer than period %q", ErrInvalidPolicy, window, period)
	}
	return nil
}

// Fraction returns value / HardLimit. A zero hard limit yields 0 so no tier
// can ever fire for it.
func (p ThresholdPolicy) Fraction(value float64) float64 {
	if p.HardLimit == 0 {
		return 0
	}
	return value / p.HardLimit
}

// TierFor returns the name of the highest limit reached by fraction, or TierSafe.
func (p ThresholdPolicy) TierFor(fraction float64) string {
	tier := TierSafe
	for _, l := range p.Limits {
		if fraction >= l.Fraction {
			tier = l.Name
		}
	}
	return tier
}

// SeverityFor maps a tier to an alert severity by its distance from the top tier.
func (p ThresholdPolicy) SeverityFor(tier string) Severity {
	if tier == TierRestrictiveActivated {
		return SeverityCritical
	}
	idx := slices.IndexFunc(p.Limits, func(l Limit) bool { return l.Name == tier })
	if idx < 0 {
		return SeverityLow
	}
	switch len(p.Limits) - 1 - idx {
	case 0:
		return SeverityCritical
	case 1:
		return SeverityHigh
	case 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
