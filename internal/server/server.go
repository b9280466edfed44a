// Package server exposes the threshold monitor and usage ledger as a JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/monitor"
	"github.com/econeura/usage-guardian/pkg/providers"
	"github.com/econeura/usage-guardian/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 10 * time.Second
)

// Server routes HTTP requests to the monitor and tracker.
type Server struct {
	monitor  *monitor.Monitor
	tracker  *tracker.Tracker
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
	logger   *slog.Logger
}

// NewServer creates an API server. A nil gatherer serves the default registry on /metrics.
func NewServer(mon *monitor.Monitor, t *tracker.Tracker, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		monitor:  mon,
		tracker:  t,
		gatherer: gatherer,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("GET /api/v1/tenants", s.handleTenants)
	s.mux.HandleFunc("PUT /api/v1/tenants/{tenant}/policy", s.handleSetPolicy)
	s.mux.HandleFunc("GET /api/v1/tenants/{tenant}/policy", s.handleGetPolicy)
	s.mux.HandleFunc("POST /api/v1/tenants/{tenant}/usage", s.handleReportUsage)
	s.mux.HandleFunc("GET /api/v1/tenants/{tenant}/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/tenants/{tenant}/insights", s.handleInsights)
	s.mux.HandleFunc("POST /api/v1/tenants/{tenant}/admission", s.handleAdmission)
	s.mux.HandleFunc("POST /api/v1/tenants/{tenant}/restrictive", s.handleActivateRestrictive)
	s.mux.HandleFunc("DELETE /api/v1/tenants/{tenant}/restrictive", s.handleDeactivateRestrictive)
	s.mux.HandleFunc("POST /api/v1/tenants/{tenant}/grace", s.handleGrace)
	s.mux.HandleFunc("GET /api/v1/tenants/{tenant}/alerts", s.handleAlerts)
	s.mux.HandleFunc("POST /api/v1/tenants/{tenant}/alerts/{id}/ack", s.handleAcknowledge)
	s.mux.HandleFunc("GET /api/v1/tenants/{tenant}/usage-records", s.handleUsageRecords)
	s.mux.HandleFunc("GET /api/v1/tenants/{tenant}/summary", s.handleSummary)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError maps domain errors to status codes. Unknown errors are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidPolicy),
		errors.Is(err, model.ErrInvalidUsage),
		errors.Is(err, model.ErrTenantRequired),
		errors.Is(err, tracker.ErrInvalidRequest),
		errors.Is(err, providers.ErrUnknownModel),
		errors.Is(err, providers.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPolicyNotFound), errors.Is(err, errNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
