package model

import (
	"maps"
	"time"
)

// UsageState is the running usage of one tenant.
type UsageState struct {
	TenantID        string             `json:"tenant_id"`
	CumulativeValue float64            `json:"cumulative_value"`
	WindowedValue   float64            `json:"windowed_value"`
	PeakValue       float64            `json:"peak_value"`
	PeriodStart     time.Time          `json:"period_start"`
	WindowStart     time.Time          `json:"window_start"`
	UpdatedAt       time.Time          `json:"updated_at"`
	ByModel         map[string]float64 `json:"by_model,omitempty"`
	ByUser          map[string]float64 `json:"by_user,omitempty"`
	ByFeature       map[string]float64 `json:"by_feature,omitempty"`
}

// Clone returns a copy that shares no maps with u.
func (u UsageState) Clone() UsageState {
	u.ByModel = maps.Clone(u.ByModel)
	u.ByUser = maps.Clone(u.ByUser)
	u.ByFeature = maps.Clone(u.ByFeature)
	return u
}

// UsageReport is an incremental usage report. Deltas are added, so reports
// from independent callers commute.
type UsageReport struct {
	Delta   float64 `json:"amount"`
	Model   string  `json:"model,omitempty"`
	User    string  `json:"user,omitempty"`
	Feature string  `json:"feature,omitempty"`
}

// RestrictiveState tracks restrictive mode and its grace window for a tenant.
// Automatic is set when the mode was entered by crossing the top tier.
type RestrictiveState struct {
	Active      bool       `json:"active"`
	Automatic   bool       `json:"automatic"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	GraceActive bool       `json:"grace_active"`
	GraceEndsAt *time.Time `json:"grace_ends_at,omitempty"`
}

// GraceActiveAt reports whether the grace window is still open at now.
// An expired window reads as inactive even if it was never cleared.
func (r RestrictiveState) GraceActiveAt(now time.Time) bool {
	return r.GraceActive && r.GraceEndsAt != nil && now.Before(*r.GraceEndsAt)
}

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert records a tier crossing. Only the acknowledgment fields change after creation.
type Alert struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id"`
	Tier                string     `json:"tier"`
	Severity            Severity   `json:"severity"`
	Message             string     `json:"message"`
	TriggeredAtFraction float64    `json:"triggered_at_fraction"`
	Value               float64    `json:"value"`
	HardLimit           float64    `json:"hard_limit"`
	Timestamp           time.Time  `json:"timestamp"`
	Acknowledged        bool       `json:"acknowledged"`
	AcknowledgedBy      string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
}

// Status is the read-only view of a tenant.
type Status struct {
	TenantID          string     `json:"tenant_id"`
	HasPolicy         bool       `json:"has_policy"`
	Fraction          float64    `json:"fraction"`
	Tier              string     `json:"tier"`
	CanProceed        bool       `json:"can_proceed"`
	RestrictiveActive bool       `json:"restrictive_active"`
	GraceActive       bool       `json:"grace_active"`
	GraceEndsAt       *time.Time `json:"grace_ends_at,omitempty"`
	CumulativeValue   float64    `json:"cumulative_value"`
	WindowedValue     float64    `json:"windowed_value"`
	HardLimit         float64    `json:"hard_limit"`
}

// Admission denial reasons.
const (
	ReasonNoPolicy               = "no_policy"
	ReasonRestrictiveMode        = "restrictive_mode"
	ReasonWouldExceedLimit       = "would_exceed_limit"
	ReasonWouldExceedWindowLimit = "would_exceed_window_limit"
)

// Admission is the outcome of an admission check. A denial is a valid outcome, not an error.
type Admission struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// WindowPoint is the final value of a closed sub-window.
type WindowPoint struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
}

// TenantSnapshot is the persisted form of one tenant.
type TenantSnapshot struct {
	TenantID     string           `json:"tenant_id"`
	Policy       *ThresholdPolicy `json:"policy,omitempty"`
	Usage        UsageState       `json:"usage"`
	Restrictive  RestrictiveState `json:"restrictive"`
	Alerts       []Alert          `json:"alerts,omitempty"`
	LastFraction float64          `json:"last_fraction"`
	History      []WindowPoint    `json:"history,omitempty"`
}

// Snapshot is the full monitor state handed to and from a store.
type Snapshot struct {
	TakenAt time.Time        `json:"taken_at"`
	Tenants []TenantSnapshot `json:"tenants"`
}
