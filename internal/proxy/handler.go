// Package proxy implements an admission gateway in front of LLM provider APIs.
// Requests are estimated and checked against the tenant's policy before they
// are forwarded, and the provider-reported usage is metered afterwards.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/tracker"
)

const (
	HeaderTarget   = "X-Guardian-Target"
	HeaderTenant   = "X-Guardian-Tenant"
	HeaderProvider = "X-Guardian-Provider"
	HeaderUser     = "X-Guardian-User"
	HeaderFeature  = "X-Guardian-Feature"
	HeaderReason   = "X-Guardian-Reason"

	headerPrefix = "X-Guardian-"
)

// Options tunes the gateway.
type Options struct {
	AddCostHeaders         bool
	DefaultMaxOutputTokens int64
	MaxBodySize            int64
}

// Handler forwards admitted requests and meters their usage.
type Handler struct {
	tracker *tracker.Tracker
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a new proxy handler.
func NewHandler(t *tracker.Tracker, opts Options, logger *slog.Logger) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 10 << 20
	}
	return &Handler{
		tracker: t,
		opts:    opts,
		logger:  logger,
	}
}

// ServeHTTP handles proxied requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	targetURL := r.Header.Get(HeaderTarget)
	if targetURL == "" {
		http.Error(w, "missing "+HeaderTarget+" header", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(targetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		http.Error(w, "invalid target URL", http.StatusBadRequest)
		return
	}

	tenant := r.Header.Get(HeaderTenant)
	if tenant == "" {
		http.Error(w, "missing "+HeaderTenant+" header", http.StatusBadRequest)
		return
	}

	var reqBody []byte
	if r.Body != nil {
		reqBody, err = io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(reqBody))
	r.ContentLength = int64(len(reqBody))

	provider := DetectProvider(target.Host, target.Path)
	if provider == "" {
		provider = DetectProvider("", r.URL.Path)
	}
	if provider == "" {
		provider = strings.ToLower(r.Header.Get(HeaderProvider))
	}

	reqInfo, err := ExtractRequestInfo(reqBody, provider)
	if err != nil {
		h.logger.Warn("failed to parse request body", "provider", provider, "error", err)
	}

	admission, estimate := h.admit(r.Context(), tenant, provider, reqInfo)
	if !admission.Allowed {
		h.logger.Info("request denied", "tenant", tenant, "reason", admission.Reason, "estimated_cost", estimate)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderReason, admission.Reason)
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":          "usage limit reached",
			"reason":         admission.Reason,
			"estimated_cost": estimate,
		})
		return
	}

	call := callInfo{
		tenant:   tenant,
		provider: provider,
		user:     r.Header.Get(HeaderUser),
		feature:  r.Header.Get(HeaderFeature),
		request:  reqInfo,
		estimate: estimate,
		start:    start,
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = target
			pr.Out.Host = target.Host
			for name := range pr.Out.Header {
				if strings.HasPrefix(http.CanonicalHeaderKey(name), headerPrefix) {
					pr.Out.Header.Del(name)
				}
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			return h.captureResponse(resp, call)
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			h.logger.Error("proxy error", "error", err, "target", targetURL)
			http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
}

// admit estimates the request and checks it against the tenant's policy.
// Requests that cannot be estimated are checked with a zero increment.
func (h *Handler) admit(ctx context.Context, tenant, provider string, info *RequestInfo) (model.Admission, float64) {
	if info == nil || info.Model == "" {
		return h.tracker.CheckAdmission(tenant, 0), 0
	}

	maxOut := info.MaxOutputTokens
	if maxOut == 0 {
		maxOut = h.opts.DefaultMaxOutputTokens
	}
	est, admission, err := h.tracker.Admit(ctx, tenant, tracker.EstimateRequest{
		Provider:        provider,
		Model:           info.Model,
		Messages:        info.Messages,
		MaxOutputTokens: maxOut,
	})
	if err != nil {
		h.logger.Warn("failed to estimate request", "tenant", tenant, "model", info.Model, "error", err)
		return h.tracker.CheckAdmission(tenant, 0), 0
	}
	return admission, est.Cost
}

type callInfo struct {
	tenant   string
	provider string
	user     string
	feature  string
	request  *RequestInfo
	estimate float64
	start    time.Time
}

// captureResponse reads the upstream response, meters its usage and injects headers.
func (h *Handler) captureResponse(resp *http.Response, call callInfo) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))

	usage, err := ExtractResponseUsage(body, call.provider)
	if err != nil {
		h.logger.Warn("failed to extract usage from response", "error", err)
		return nil
	}
	if usage == nil {
		return nil
	}

	modelName := usage.Model
	if modelName == "" && call.request != nil {
		modelName = call.request.Model
	}

	ctx := context.WithoutCancel(resp.Request.Context())
	result, err := h.tracker.Track(ctx, tracker.TrackRequest{
		TenantID:          call.tenant,
		Provider:          call.provider,
		Model:             modelName,
		User:              call.user,
		Feature:           call.feature,
		InputTokens:       usage.InputTokens,
		CachedInputTokens: usage.CachedInputTokens,
		OutputTokens:      usage.OutputTokens,
	})
	if err != nil {
		h.logger.Error("failed to record usage", "tenant", call.tenant, "model", modelName, "error", err)
		return nil
	}

	if h.opts.AddCostHeaders {
		resp.Header.Set("X-Guardian-Cost", fmt.Sprintf("%.6f", result.Record.Amount))
		resp.Header.Set("X-Guardian-Estimated-Cost", fmt.Sprintf("%.6f", call.estimate))
		resp.Header.Set("X-Guardian-Input-Tokens", strconv.FormatInt(result.Record.InputTokens, 10))
		resp.Header.Set("X-Guardian-Output-Tokens", strconv.FormatInt(result.Record.OutputTokens, 10))
		resp.Header.Set("X-Guardian-Provider", result.Record.Provider)
		resp.Header.Set("X-Guardian-Model", modelName)
		resp.Header.Set("X-Guardian-Latency", time.Since(call.start).String())
	}
	return nil
}
