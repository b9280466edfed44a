package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/econeura/usage-guardian/pkg/clock"
	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/providers"
	"github.com/econeura/usage-guardian/pkg/storage"
	"github.com/econeura/usage-guardian/pkg/tokenizer"
	"github.com/google/uuid"
)

// ErrInvalidRequest marks malformed tracking or estimation input.
var ErrInvalidRequest = model.ErrInvalidRequest

// Monitor is the part of the threshold monitor the tracker reports into.
// *monitor.Monitor satisfies it.
type Monitor interface {
	ReportUsage(tenantID string, r model.UsageReport) (model.UsageState, error)
	CheckAdmission(tenantID string, estimatedIncrement float64) model.Admission
}

// TrackRequest is one completed call. When Amount is zero the cost is
// computed from the token counts.
type TrackRequest struct {
	TenantID          string  `json:"tenant_id"`
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
	User              string  `json:"user,omitempty"`
	Feature           string  `json:"feature,omitempty"`
	InputTokens       int64   `json:"input_tokens,omitempty"`
	CachedInputTokens int64   `json:"cached_input_tokens,omitempty"`
	OutputTokens      int64   `json:"output_tokens,omitempty"`
	Amount            float64 `json:"amount,omitempty"`
}

// TrackResult is the ledger entry for a call and the tenant's usage after it.
// Stored is false when the ledger write failed; the usage still counts.
type TrackResult struct {
	Record model.UsageRecord `json:"record"`
	State  model.UsageState  `json:"state"`
	Stored bool              `json:"stored"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to timestamp ledger records.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithCounter shares a token counter with other components.
func WithCounter(c *tokenizer.Counter) Option {
	return func(t *Tracker) { t.counter = c }
}

// Tracker is the main entry point for recording metered LLM usage.
type Tracker struct {
	registry  *providers.Registry
	estimator *Estimator
	counter   *tokenizer.Counter
	storage   storage.Storage
	monitor   Monitor
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a tracker with the given dependencies.
func New(registry *providers.Registry, store storage.Storage, mon Monitor, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		registry: registry,
		storage:  store,
		monitor:  mon,
		clock:    clock.System{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.estimator = NewEstimator(registry, t.counter)
	return t
}

// Track prices a call, reports it to the monitor and appends it to the ledger.
// A call the monitor rejects is not written to the ledger. Once the monitor
// has accepted the call Track succeeds: a failed ledger write is logged and
// reported through TrackResult.Stored, never as an error, so a caller that
// retries on error cannot count the same call twice.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (*TrackResult, error) {
	if req.TenantID == "" {
		return nil, model.ErrTenantRequired
	}

	amount, provider := req.Amount, req.Provider
	if amount == 0 && (req.InputTokens != 0 || req.CachedInputTokens != 0 || req.OutputTokens != 0) {
		p, err := t.registry.Resolve(req.Provider, req.Model)
		if err != nil {
			return nil, fmt.Errorf("calculate cost: %w", err)
		}
		cost, err := CalculateCostWithCache(p, req.Model, req.InputTokens, req.CachedInputTokens, req.OutputTokens)
		if err != nil {
			return nil, fmt.Errorf("calculate cost: %w", err)
		}
		amount, provider = cost, p.Name()
	}

	state, err := t.monitor.ReportUsage(req.TenantID, model.UsageReport{
		Delta:   amount,
		Model:   req.Model,
		User:    req.User,
		Feature: req.Feature,
	})
	if err != nil {
		return nil, fmt.Errorf("report usage: %w", err)
	}

	record := model.UsageRecord{
		ID:           uuid.New().String(),
		TenantID:     req.TenantID,
		Provider:     provider,
		Model:        req.Model,
		User:         req.User,
		Feature:      req.Feature,
		InputTokens:  req.InputTokens + req.CachedInputTokens,
		OutputTokens: req.OutputTokens,
		Amount:       amount,
		Timestamp:    t.clock.Now().UTC(),
	}
	stored := true
	if err := t.storage.RecordUsage(ctx, &record); err != nil {
		stored = false
		t.logger.Error("usage ledger write failed",
			"tenant", req.TenantID,
			"record", record.ID,
			"amount", amount,
			"error", err,
		)
	}

	t.logger.Info("usage recorded",
		"tenant", req.TenantID,
		"provider", provider,
		"model", req.Model,
		"input_tokens", record.InputTokens,
		"output_tokens", record.OutputTokens,
		"amount", amount,
		"cumulative", state.CumulativeValue,
	)

	return &TrackResult{Record: record, State: state, Stored: stored}, nil
}

// Estimate prices a request without checking admission.
func (t *Tracker) Estimate(req EstimateRequest) (Estimate, error) {
	return t.estimator.Estimate(req)
}

// Admit estimates a request and asks the monitor whether the tenant may make it.
func (t *Tracker) Admit(_ context.Context, tenantID string, req EstimateRequest) (Estimate, model.Admission, error) {
	est, err := t.estimator.Estimate(req)
	if err != nil {
		return Estimate{}, model.Admission{}, err
	}
	return est, t.monitor.CheckAdmission(tenantID, est.Cost), nil
}

// CheckAdmission asks the monitor whether the tenant may spend estimatedIncrement.
func (t *Tracker) CheckAdmission(tenantID string, estimatedIncrement float64) model.Admission {
	return t.monitor.CheckAdmission(tenantID, estimatedIncrement)
}

// Report generates a ledger summary for the given filter.
func (t *Tracker) Report(ctx context.Context, filter model.ReportFilter) (*model.UsageSummary, error) {
	return t.storage.AggregateUsage(ctx, filter)
}

// Summary reports a tenant's ledger over the calendar period containing now.
func (t *Tracker) Summary(ctx context.Context, tenantID string, period model.BudgetPeriod) (*model.UsageSummary, error) {
	if tenantID == "" {
		return nil, model.ErrTenantRequired
	}
	if !period.Valid() {
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, period)
	}
	start, end := model.PeriodBounds(period, t.clock.Now())
	return t.storage.AggregateUsage(ctx, model.ReportFilter{TenantID: tenantID, StartTime: start, EndTime: end})
}

// Query returns individual ledger records for the given filter.
func (t *Tracker) Query(ctx context.Context, filter model.ReportFilter) ([]model.UsageRecord, error) {
	return t.storage.QueryUsage(ctx, filter)
}
