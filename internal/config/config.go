package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/spf13/viper"
)

// Config holds all Usage Guardian configuration.
type Config struct {
	Storage      StorageConfig `mapstructure:"storage"`
	Server       ServerConfig  `mapstructure:"server"`
	Proxy        ProxyConfig   `mapstructure:"proxy"`
	Monitor      MonitorConfig `mapstructure:"monitor"`
	PoliciesFile string        `mapstructure:"policies_file"`
	Alerts       AlertsConfig  `mapstructure:"alerts"`
	Pricing      PricingConfig `mapstructure:"pricing"`
	Logging      LoggingConfig `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path             string        `mapstructure:"path"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// ServerConfig defines the JSON API listener.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ProxyConfig defines the admission gateway.
type ProxyConfig struct {
	Listen                 string        `mapstructure:"listen"`
	ReadTimeout            time.Duration `mapstructure:"read_timeout"`
	WriteTimeout           time.Duration `mapstructure:"write_timeout"`
	MaxBodySize            int64         `mapstructure:"max_body_size"`
	AddCostHeaders         bool          `mapstructure:"add_cost_headers"`
	DefaultMaxOutputTokens int64         `mapstructure:"default_max_output_tokens"`
}

// MonitorConfig tunes the threshold monitor's background sweeps.
type MonitorConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	PruneInterval  time.Duration `mapstructure:"prune_interval"`
	AlertRetention time.Duration `mapstructure:"alert_retention"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	// DefaultBudget, when set, applies to tenants without their own policy.
	DefaultBudget *model.BudgetConfig `mapstructure:"default_budget"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	Slack       SlackConfig   `mapstructure:"slack"`
	Webhook     WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// PricingConfig defines pricing data settings. An empty or missing Dir falls
// back to the built-in tables.
type PricingConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, ".guardian"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("storage.path", filepath.Join(home, ".guardian", "guardian.db"))
	v.SetDefault("storage.snapshot_interval", "30s")
	v.SetDefault("server.listen", ":8090")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("proxy.listen", ":8080")
	v.SetDefault("proxy.read_timeout", "30s")
	v.SetDefault("proxy.write_timeout", "120s")
	v.SetDefault("proxy.max_body_size", 10*1024*1024) // 10 MB
	v.SetDefault("proxy.add_cost_headers", true)
	v.SetDefault("proxy.default_max_output_tokens", 1024)
	v.SetDefault("monitor.sweep_interval", "1m")
	v.SetDefault("monitor.prune_interval", "1h")
	v.SetDefault("monitor.alert_retention", "168h")
	v.SetDefault("monitor.history_limit", 90)
	v.SetDefault("policies_file", "")
	v.SetDefault("alerts.queue_size", 256)
	v.SetDefault("alerts.send_timeout", "10s")
	v.SetDefault("alerts.slack.channel", "#usage-alerts")
	v.SetDefault("pricing.dir", "pricing/")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check on its own.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"monitor.sweep_interval":    c.Monitor.SweepInterval,
		"monitor.prune_interval":    c.Monitor.PruneInterval,
		"monitor.alert_retention":   c.Monitor.AlertRetention,
		"storage.snapshot_interval": c.Storage.SnapshotInterval,
		"alerts.send_timeout":       c.Alerts.SendTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if c.Monitor.HistoryLimit < 0 {
		return fmt.Errorf("config: monitor.history_limit must be >= 0")
	}
	if c.Alerts.QueueSize <= 0 {
		return fmt.Errorf("config: alerts.queue_size must be positive")
	}
	if p := c.DefaultPolicy(); p != nil {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config: monitor.default_budget: %w", err)
		}
	}
	return nil
}

// DefaultPolicy returns the policy for tenants without one, or nil.
func (c *Config) DefaultPolicy() *model.ThresholdPolicy {
	if c.Monitor.DefaultBudget == nil {
		return nil
	}
	p := c.Monitor.DefaultBudget.Policy()
	return &p
}
