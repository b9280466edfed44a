package model

// UsageShare is one entry of a usage breakdown.
type UsageShare struct {
	Key        string  `json:"key"`
	Usage      float64 `json:"usage"`
	Percentage float64 `json:"percentage"`
}

// Recommendation types.
const (
	RecommendLimitIncrease  = "limit_increase"
	RecommendUsageReduction = "usage_reduction"
)

// Recommendation is an actionable hint derived from usage.
type Recommendation struct {
	Type        string   `json:"type"`
	Priority    Severity `json:"priority"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// Insights summarizes trend and projection for a tenant's current period.
type Insights struct {
	TenantID             string           `json:"tenant_id"`
	Fraction             float64          `json:"fraction"`
	CumulativeValue      float64          `json:"cumulative_value"`
	HardLimit            float64          `json:"hard_limit"`
	AverageWindowUsage   float64          `json:"average_window_usage"`
	ProjectedPeriodUsage float64          `json:"projected_period_usage"`
	ProjectedOverage     float64          `json:"projected_overage"`
	WindowsRemaining     int              `json:"windows_remaining"`
	TrendSlope           float64          `json:"trend_slope"`
	TopModels            []UsageShare     `json:"top_models,omitempty"`
	TopUsers             []UsageShare     `json:"top_users,omitempty"`
	TopFeatures          []UsageShare     `json:"top_features,omitempty"`
	Recommendations      []Recommendation `json:"recommendations,omitempty"`
}
