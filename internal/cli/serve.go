package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/econeura/usage-guardian/internal/proxy"
	"github.com/econeura/usage-guardian/internal/server"
	"github.com/econeura/usage-guardian/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON API and the admission gateway",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "API listen address (default from config)")
	serveCmd.Flags().String("proxy-listen", "", "Gateway listen address (default from config)")
	serveCmd.Flags().Bool("no-proxy", false, "Do not start the admission gateway")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if listen, _ := cmd.Flags().GetString("proxy-listen"); listen != "" {
		cfg.Proxy.Listen = listen
	}
	noProxy, _ := cmd.Flags().GetBool("no-proxy")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	logger := a.logger

	a.monitor.Start(ctx)
	a.syncer.Start(ctx)

	servers := []*http.Server{{
		Addr:         cfg.Server.Listen,
		Handler:      server.NewServer(a.monitor, a.tracker, prometheus.DefaultGatherer, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}
	if !noProxy {
		servers = append(servers, &http.Server{
			Addr: cfg.Proxy.Listen,
			Handler: proxy.NewHandler(a.tracker, proxy.Options{
				AddCostHeaders:         cfg.Proxy.AddCostHeaders,
				DefaultMaxOutputTokens: cfg.Proxy.DefaultMaxOutputTokens,
				MaxBodySize:            cfg.Proxy.MaxBodySize,
			}, logger),
			ReadTimeout:  cfg.Proxy.ReadTimeout,
			WriteTimeout: cfg.Proxy.WriteTimeout,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	fmt.Fprintf(os.Stderr, "Usage Guardian API listening on %s\n", cfg.Server.Listen)

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = errors.Join(serveErr, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	a.monitor.Stop()
	if err := a.syncer.Stop(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	if err := a.close(shutdownCtx, false); err != nil {
		serveErr = errors.Join(serveErr, err)
	}

	logger.Info("stopped")
	return serveErr
}
