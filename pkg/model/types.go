package model

import "time"

// UsageRecord is a single ledger entry: one metered call attributed to a tenant.
type UsageRecord struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Provider     string    `json:"provider,omitempty" db:"provider"`
	Model        string    `json:"model,omitempty" db:"model"`
	User         string    `json:"user,omitempty" db:"user_id"`
	Feature      string    `json:"feature,omitempty" db:"feature"`
	InputTokens  int64     `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64     `json:"output_tokens" db:"output_tokens"`
	Amount       float64   `json:"amount" db:"amount"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// BudgetPeriod defines a calendar window used for accumulation and rollover.
type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodMonthly BudgetPeriod = "monthly"
)

// Valid reports whether p is a known period.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

func (p BudgetPeriod) rank() int {
	switch p {
	case PeriodWeekly:
		return 1
	case PeriodMonthly:
		return 2
	default:
		return 0
	}
}

// ReportFilter controls what ledger records are included in reports. Empty
// fields match everything; EndTime is exclusive. Limit caps QueryUsage only.
type ReportFilter struct {
	TenantID  string    `json:"tenant_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	User      string    `json:"user,omitempty"`
	Feature   string    `json:"feature,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// UsageSummary holds aggregated ledger statistics.
type UsageSummary struct {
	TotalAmount       float64            `json:"total_amount"`
	TotalInputTokens  int64              `json:"total_input_tokens"`
	TotalOutputTokens int64              `json:"total_output_tokens"`
	RecordCount       int64              `json:"record_count"`
	ByProvider        map[string]float64 `json:"by_provider,omitempty"`
	ByModel           map[string]float64 `json:"by_model,omitempty"`
	ByUser            map[string]float64 `json:"by_user,omitempty"`
	ByFeature         map[string]float64 `json:"by_feature,omitempty"`
}

// PeriodStart returns the UTC start of the period containing now.
// Weeks start on Monday. Unknown periods are treated as daily.
func PeriodStart(period BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodWeekly:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return day.AddDate(0, 0, -weekday+1)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// PeriodBounds returns the start and end time of the period containing now.
func PeriodBounds(period BudgetPeriod, now time.Time) (start, end time.Time) {
	start = PeriodStart(period, now)
	switch period {
	case PeriodWeekly:
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		end = start.AddDate(0, 1, 0)
	default:
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}
