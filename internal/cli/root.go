// Package cli implements the guardian command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/econeura/usage-guardian/internal/config"
	"github.com/econeura/usage-guardian/pkg/alerts"
	"github.com/econeura/usage-guardian/pkg/metrics"
	"github.com/econeura/usage-guardian/pkg/monitor"
	"github.com/econeura/usage-guardian/pkg/providers"
	"github.com/econeura/usage-guardian/pkg/storage"
	"github.com/econeura/usage-guardian/pkg/tracker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Usage Guardian - multi-tenant usage thresholds, alerts and admission control",
	Long: `Usage Guardian tracks metered usage per tenant against threshold policies.
It raises tiered alerts, switches tenants into restrictive mode, answers
admission checks, and fronts LLM provider APIs with a cost-aware gateway.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.guardian/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initRegistry loads pricing tables from the configured directory, falling
// back to the tables built into the binary.
func initRegistry(cfg *config.Config, logger *slog.Logger) (*providers.Registry, error) {
	pricingDir := cfg.Pricing.Dir

	if pricingDir != "" {
		if _, err := os.Stat(pricingDir); errors.Is(err, os.ErrNotExist) {
			// Try relative to executable
			pricingDir = ""
			if exePath, _ := os.Executable(); exePath != "" {
				altDir := filepath.Join(filepath.Dir(exePath), "pricing")
				if _, altErr := os.Stat(altDir); altErr == nil {
					pricingDir = altDir
				}
			}
		}
	}

	var (
		configs []*providers.ProviderConfig
		err     error
	)
	if pricingDir != "" {
		configs, err = providers.LoadDir(pricingDir)
		if err != nil {
			return nil, fmt.Errorf("load pricing from %s: %w", pricingDir, err)
		}
	}
	if len(configs) == 0 {
		logger.Debug("using built-in pricing tables")
		if configs, err = providers.LoadBuiltin(); err != nil {
			return nil, fmt.Errorf("load built-in pricing: %w", err)
		}
	}
	return providers.NewRegistryFromConfigs(configs)
}

// initStorage creates a storage backend from config.
func initStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.NewSQLite(cfg.Storage.Path)
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

// app is the fully wired set of components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *providers.Registry
	store      storage.Storage
	monitor    *monitor.Monitor
	tracker    *tracker.Tracker
	dispatcher *alerts.Dispatcher
	syncer     *storage.Syncer
}

// newApp wires storage, monitor, tracker and alerting. The monitor is
// restored from the stored snapshot and then seeded from the policies file.
// mt may be nil.
func newApp(ctx context.Context, cfg *config.Config, mt *metrics.Metrics) (*app, error) {
	logger := newLogger(cfg)

	registry, err := initRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	dispatcher := alerts.NewDispatcher(initNotifiers(cfg), logger,
		alerts.WithQueueSize(cfg.Alerts.QueueSize),
		alerts.WithSendTimeout(cfg.Alerts.SendTimeout),
		alerts.WithMetrics(mt),
	)

	opts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithSink(dispatcher),
		monitor.WithMetrics(mt),
		monitor.WithAlertRetention(cfg.Monitor.AlertRetention),
		monitor.WithSweepInterval(cfg.Monitor.SweepInterval),
		monitor.WithPruneInterval(cfg.Monitor.PruneInterval),
		monitor.WithHistoryLimit(cfg.Monitor.HistoryLimit),
	}
	if p := cfg.DefaultPolicy(); p != nil {
		opts = append(opts, monitor.WithDefaultPolicy(*p))
	}
	mon, err := monitor.New(opts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init monitor: %w", err)
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := mon.Restore(snap); err != nil {
		store.Close()
		return nil, err
	}

	if cfg.PoliciesFile != "" {
		policies, err := config.LoadPolicies(cfg.PoliciesFile)
		if err != nil {
			store.Close()
			return nil, err
		}
		for tenant, p := range policies {
			if _, err := mon.SetPolicy(tenant, p); err != nil {
				store.Close()
				return nil, fmt.Errorf("seed policy for %s: %w", tenant, err)
			}
		}
		logger.Info("policies seeded", "file", cfg.PoliciesFile, "tenants", len(policies))
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		store:      store,
		monitor:    mon,
		tracker:    tracker.New(registry, store, mon, logger),
		dispatcher: dispatcher,
		syncer:     storage.NewSyncer(store, mon, cfg.Storage.SnapshotInterval, logger),
	}
	dispatcher.Start(ctx)
	return a, nil
}

// openApp loads config and wires an app for a one-shot command.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, nil)
}

// close delivers pending alerts, optionally writes the monitor state back,
// and releases storage.
func (a *app) close(ctx context.Context, save bool) error {
	a.dispatcher.Stop()

	var err error
	if save {
		err = a.syncer.Save(ctx)
	}
	return errors.Join(err, a.store.Close())
}

// run executes fn against a freshly opened app and saves the monitor state
// when fn succeeds and save is set.
func run(cmd *cobra.Command, save bool, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	fnErr := fn(a)
	return errors.Join(fnErr, a.close(context.WithoutCancel(cmd.Context()), save && fnErr == nil))
}
