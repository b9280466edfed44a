package metrics_test

import (
	"errors"
	"testing"

	"github.com/econeura/usage-guardian/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveAlert("warning")
	m.ObserveAlert("warning")
	m.ObserveNotification("slack", errors.New("boom"))
	m.AddRestrictive(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Alerts.WithLabelValues("warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("slack", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RestrictiveTenants))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveReport("ok")
		m.ObserveAlert("critical")
		m.AddRestrictive(1)
		m.SetRestrictive(0)
		m.ObserveRollover("window")
		m.ObservePruned(3)
		m.ObserveAdmission(false, "restrictive_mode")
		m.ObserveNotification("webhook", nil)
		m.ObserveDrop()
	})
}
