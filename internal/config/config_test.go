package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/econeura/usage-guardian/internal/config"
	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "config.yaml", "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.Equal(t, ":8080", cfg.Proxy.Listen)
	assert.Equal(t, 30*time.Second, cfg.Proxy.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Proxy.WriteTimeout)
	assert.True(t, cfg.Proxy.AddCostHeaders)
	assert.Equal(t, int64(1024), cfg.Proxy.DefaultMaxOutputTokens)
	assert.Equal(t, time.Minute, cfg.Monitor.SweepInterval)
	assert.Equal(t, time.Hour, cfg.Monitor.PruneInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Monitor.AlertRetention)
	assert.Equal(t, 90, cfg.Monitor.HistoryLimit)
	assert.Equal(t, 30*time.Second, cfg.Storage.SnapshotInterval)
	assert.Equal(t, 256, cfg.Alerts.QueueSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "pricing/", cfg.Pricing.Dir)
	assert.Nil(t, cfg.DefaultPolicy())
}

func TestLoad_FromFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
storage:
  path: /tmp/test.db
server:
  listen: ":9091"
proxy:
  listen: ":9090"
monitor:
  sweep_interval: 5s
  default_budget:
    monthly_limit: 1000
    daily_limit: 50
    auto_read_only: false
policies_file: policies.yaml
logging:
  level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Storage.Path)
	assert.Equal(t, ":9091", cfg.Server.Listen)
	assert.Equal(t, ":9090", cfg.Proxy.Listen)
	assert.Equal(t, 5*time.Second, cfg.Monitor.SweepInterval)
	assert.Equal(t, "policies.yaml", cfg.PoliciesFile)
	assert.Equal(t, "debug", cfg.Logging.Level)

	p := cfg.DefaultPolicy()
	require.NotNil(t, p)
	assert.Equal(t, 1000.0, p.HardLimit)
	assert.Equal(t, 50.0, p.WindowLimit)
	assert.False(t, p.AutoRestrict)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAN_LOGGING_LEVEL", "error")
	t.Setenv("GUARDIAN_PROXY_LISTEN", ":7070")
	t.Setenv("GUARDIAN_MONITOR_HISTORY_LIMIT", "7")

	cfg, err := config.Load(writeFile(t, "config.yaml", "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, ":7070", cfg.Proxy.Listen)
	assert.Equal(t, 7, cfg.Monitor.HistoryLimit)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "invalid: [yaml"},
		{"zero sweep interval", "monitor:\n  sweep_interval: 0s\n"},
		{"negative history", "monitor:\n  history_limit: -1\n"},
		{"zero queue", "alerts:\n  queue_size: 0\n"},
		{"bad default budget", "monitor:\n  default_budget:\n    monthly_limit: -5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "config.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParsePolicies(t *testing.T) {
	policies, err := config.ParsePolicies([]byte(`
tenants:
  - tenant: acme
    budget:
      monthly_limit: 1000
      daily_limit: 50
  - tenant: globex
    policy:
      hard_limit: 10
      auto_restrict: false
      period: weekly
      limits:
        - name: soft
          fraction: 0.5
        - name: hard
          fraction: 1
`))
	require.NoError(t, err)
	require.Len(t, policies, 2)

	assert.Equal(t, model.BudgetConfig{MonthlyLimit: 1000, DailyLimit: 50}.Policy(), policies["acme"])

	globex := policies["globex"]
	assert.Equal(t, 10.0, globex.HardLimit)
	assert.Equal(t, model.PeriodWeekly, globex.Period)
	assert.Equal(t, []model.Limit{{Name: "soft", Fraction: 0.5}, {Name: "hard", Fraction: 1}}, globex.Limits)
}

func TestParsePolicies_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"missing tenant", "tenants:\n  - budget:\n      monthly_limit: 1\n", model.ErrTenantRequired},
		{"duplicate", "tenants:\n  - tenant: a\n    budget: {monthly_limit: 1}\n  - tenant: a\n    budget: {monthly_limit: 2}\n", nil},
		{"both", "tenants:\n  - tenant: a\n    budget: {monthly_limit: 1}\n    policy: {hard_limit: 1}\n", nil},
		{"neither", "tenants:\n  - tenant: a\n", nil},
		{"non monotonic", "tenants:\n  - tenant: a\n    policy:\n      limits: [{name: x, fraction: 0.9}, {name: y, fraction: 0.5}]\n", model.ErrInvalidPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParsePolicies([]byte(tt.body))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestLoadPolicies_File(t *testing.T) {
	path := writeFile(t, "policies.yaml", "tenants:\n  - tenant: acme\n    budget: {monthly_limit: 5}\n")
	policies, err := config.LoadPolicies(path)
	require.NoError(t, err)
	assert.Contains(t, policies, "acme")

	_, err = config.LoadPolicies(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
