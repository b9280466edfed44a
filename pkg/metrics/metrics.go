// Package metrics holds the prometheus collectors exported by the guardian.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all guardian collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UsageReports       *prometheus.CounterVec
	Alerts             *prometheus.CounterVec
	RestrictiveTenants prometheus.Gauge
	Rollovers          *prometheus.CounterVec
	AlertsPruned       prometheus.Counter
	Admissions         *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	NotificationDrops  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UsageReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_usage_reports_total",
			Help: "Usage reports processed, by result",
		}, []string{"result"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_total",
			Help: "Alerts emitted, by tier",
		}, []string{"tier"}),
		RestrictiveTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_restrictive_tenants",
			Help: "Tenants currently in restrictive mode",
		}),
		Rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_rollovers_total",
			Help: "Usage counter resets, by kind (window or period)",
		}, []string{"kind"}),
		AlertsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_alerts_pruned_total",
			Help: "Alerts removed by the retention sweep",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_admission_total",
			Help: "Admission checks, by result",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_notifications_total",
			Help: "Alert notifications sent, by notifier and result",
		}, []string{"notifier", "result"}),
		NotificationDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_notification_drops_total",
			Help: "Alerts dropped because the dispatch queue was full",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.UsageReports,
			m.Alerts,
			m.RestrictiveTenants,
			m.Rollovers,
			m.AlertsPruned,
			m.Admissions,
			m.Notifications,
			m.NotificationDrops,
		)
	}
	return m
}

func (m *Metrics) ObserveReport(result string) {
	if m == nil {
		return
	}
	m.UsageReports.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAlert(tier string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(tier).Inc()
}

func (m *Metrics) AddRestrictive(delta float64) {
	if m == nil {
		return
	}
	m.RestrictiveTenants.Add(delta)
}

func (m *Metrics) SetRestrictive(n float64) {
	if m == nil {
		return
	}
	m.RestrictiveTenants.Set(n)
}

func (m *Metrics) ObserveRollover(kind string) {
	if m == nil {
		return
	}
	m.Rollovers.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObservePruned(n int) {
	if m == nil || n == 0 {
		return
	}
	m.AlertsPruned.Add(float64(n))
}

func (m *Metrics) ObserveAdmission(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = reason
	}
	m.Admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveNotification(notifier string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(notifier, result).Inc()
}

func (m *Metrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.NotificationDrops.Inc()
}
