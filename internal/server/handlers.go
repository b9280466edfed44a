package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/tracker"
)

// policyRequest accepts either a generic tier list or the budget shorthand.
type policyRequest struct {
	Limits           []model.Limit      `json:"limits"`
	HardLimit        float64            `json:"hard_limit"`
	WindowLimit      float64            `json:"window_limit"`
	AutoRestrict     *bool              `json:"auto_restrict"`
	GracePeriodHours float64            `json:"grace_period_hours"`
	Period           model.BudgetPeriod `json:"period"`
	Window           model.BudgetPeriod `json:"window"`

	MonthlyLimit      *float64 `json:"monthly_limit"`
	DailyLimit        float64  `json:"daily_limit"`
	WarningThreshold  float64  `json:"warning_threshold"`
	CriticalThreshold float64  `json:"critical_threshold"`
	ReadOnlyThreshold float64  `json:"read_only_threshold"`
	AutoReadOnly      *bool    `json:"auto_read_only"`
}

func (p policyRequest) policy() (model.ThresholdPolicy, error) {
	switch {
	case len(p.Limits) > 0 && p.MonthlyLimit != nil:
		return model.ThresholdPolicy{}, badRequest("set either limits or monthly_limit, not both")
	case len(p.Limits) > 0:
		pol := model.ThresholdPolicy{
			Limits:           p.Limits,
			HardLimit:        p.HardLimit,
			WindowLimit:      p.WindowLimit,
			GracePeriodHours: p.GracePeriodHours,
			Period:           p.Period,
			Window:           p.Window,
		}
		if p.AutoRestrict != nil {
			pol.AutoRestrict = *p.AutoRestrict
		}
		return pol, nil
	case p.MonthlyLimit != nil:
		return model.BudgetConfig{
			MonthlyLimit:      *p.MonthlyLimit,
			DailyLimit:        p.DailyLimit,
			WarningThreshold:  p.WarningThreshold,
			CriticalThreshold: p.CriticalThreshold,
			ReadOnlyThreshold: p.ReadOnlyThreshold,
			AutoReadOnly:      p.AutoReadOnly,
			GracePeriodHours:  p.GracePeriodHours,
		}.Policy(), nil
	default:
		return model.ThresholdPolicy{}, fmt.Errorf("%w: limits or monthly_limit is required", model.ErrInvalidPolicy)
	}
}

func (s *Server) handleTenants(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.Tenants())
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	pol, err := req.policy()
	if err != nil {
		s.writeError(w, err)
		return
	}

	stored, err := s.monitor.SetPolicy(r.PathValue("tenant"), pol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	pol, ok := s.monitor.Policy(tenant)
	if !ok {
		s.writeError(w, fmt.Errorf("tenant %q: %w", tenant, model.ErrPolicyNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, pol)
}

// usageRequest reports either a raw amount or token counts to be priced.
type usageRequest struct {
	Amount            float64 `json:"amount"`
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	User              string  `json:"user"`
	Feature           string  `json:"feature"`
	InputTokens       int64   `json:"input_tokens"`
	CachedInputTokens int64   `json:"cached_input_tokens"`
	OutputTokens      int64   `json:"output_tokens"`
}

type usageResponse struct {
	Record model.UsageRecord `json:"record"`
	State  model.UsageState  `json:"state"`
	Status model.Status      `json:"status"`
	Stored bool              `json:"stored"`
}

func (s *Server) handleReportUsage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req usageRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tenant := r.PathValue("tenant")
	res, err := s.tracker.Track(ctx, tracker.TrackRequest{
		TenantID:          tenant,
		Provider:          req.Provider,
		Model:             req.Model,
		User:              req.User,
		Feature:           req.Feature,
		InputTokens:       req.InputTokens,
		CachedInputTokens: req.CachedInputTokens,
		OutputTokens:      req.OutputTokens,
		Amount:            req.Amount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usageResponse{
		Record: res.Record,
		State:  res.State,
		Status: s.monitor.GetStatus(tenant),
		Stored: res.Stored,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.GetStatus(r.PathValue("tenant")))
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	ins, ok := s.monitor.Insights(tenant)
	if !ok {
		s.writeError(w, fmt.Errorf("tenant %q: %w", tenant, model.ErrPolicyNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, ins)
}

// admissionRequest carries either a precomputed increment or a request to estimate.
type admissionRequest struct {
	EstimatedIncrement *float64 `json:"estimated_increment"`
	tracker.EstimateRequest
}

type admissionResponse struct {
	model.Admission
	Estimate *tracker.Estimate `json:"estimate,omitempty"`
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req admissionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tenant := r.PathValue("tenant")
	switch {
	case req.Model != "":
		est, adm, err := s.tracker.Admit(ctx, tenant, req.EstimateRequest)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, admissionResponse{Admission: adm, Estimate: &est})
	case req.EstimatedIncrement != nil:
		adm := s.monitor.CheckAdmission(tenant, *req.EstimatedIncrement)
		s.writeJSON(w, http.StatusOK, admissionResponse{Admission: adm})
	default:
		s.writeError(w, badRequest("estimated_increment or model is required"))
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleActivateRestrictive(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tenant := r.PathValue("tenant")
	if err := s.monitor.ActivateRestrictiveMode(tenant, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.GetStatus(tenant))
}

func (s *Server) handleDeactivateRestrictive(w http.ResponseWriter, r *http.Request) {
	req := reasonRequest{Reason: r.URL.Query().Get("reason")}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tenant := r.PathValue("tenant")
	if err := s.monitor.DeactivateRestrictiveMode(tenant, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.GetStatus(tenant))
}

type graceRequest struct {
	Hours float64 `json:"hours"`
}

func (s *Server) handleGrace(w http.ResponseWriter, r *http.Request) {
	var req graceRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tenant := r.PathValue("tenant")
	if err := s.monitor.ActivateGracePeriod(tenant, req.Hours); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.GetStatus(tenant))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")

	var alerts []model.Alert
	if r.URL.Query().Get("active") == "true" {
		alerts = s.monitor.ActiveAlerts(tenant)
	} else {
		alerts = s.monitor.Alerts(tenant)
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

type ackRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Actor == "" {
		s.writeError(w, badRequest("actor is required"))
		return
	}

	tenant, id := r.PathValue("tenant"), r.PathValue("id")
	if !s.monitor.AcknowledgeAlert(tenant, id, req.Actor) {
		s.writeError(w, fmt.Errorf("alert %q: %w", id, errNotFound))
		return
	}
	for _, a := range s.monitor.Alerts(tenant) {
		if a.ID == id {
			s.writeJSON(w, http.StatusOK, a)
			return
		}
	}
	// Pruned between the two calls.
	s.writeError(w, fmt.Errorf("alert %q: %w", id, errNotFound))
}

func (s *Server) handleUsageRecords(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	q := r.URL.Query()
	filter := model.ReportFilter{
		TenantID: r.PathValue("tenant"),
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
		User:     q.Get("user"),
		Feature:  q.Get("feature"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			s.writeError(w, badRequest("invalid limit %q", v))
			return
		}
	}
	if filter.StartTime, err = parseTime(q.Get("start")); err != nil {
		s.writeError(w, err)
		return
	}
	if filter.EndTime, err = parseTime(q.Get("end")); err != nil {
		s.writeError(w, err)
		return
	}

	records, err := s.tracker.Query(ctx, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []model.UsageRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	period := model.BudgetPeriod(r.URL.Query().Get("period"))
	if period == "" {
		period = model.PeriodMonthly
	}
	if !period.Valid() {
		s.writeError(w, badRequest("unknown period %q", period))
		return
	}

	summary, err := s.tracker.Summary(ctx, r.PathValue("tenant"), period)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, badRequest("invalid time %q, want RFC3339", v)
	}
	return t, nil
}
