package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"perq/native/alerts"
	"perq/native/ledger"
	"perq/observability/logging"
	"perq/observability/otel"
	"perq/services/dashboard"
	"perq/storage/localstore"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API and the scheduled expiry scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.HTTP.ListenAddress = listen
			}

			logger := logging.Setup("perq", cfg.Environment, logging.Options{
				Level:      cfg.Log.Level,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAgeDays: cfg.Log.MaxAgeDays,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := otel.Init(ctx, cfg.Environment, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTelemetry(shutdownCtx); err != nil {
					logger.Warn("telemetry shutdown", "error", err)
				}
			}()

			hub := dashboard.NewHub(logger, cfg.HTTP.AllowedOrigins)
			eng, err := openEngine(cfg, logger, hub)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := eng.Close(shutdownCtx); err != nil {
					logger.Error("engine shutdown", "error", err)
				}
			}()
			detach := hub.Attach(eng.store, ledger.Keys)
			defer detach()

			watcher, err := eng.store.Watch(ctx)
			switch {
			case errors.Is(err, localstore.ErrWatchUnsupported):
				logger.Info("cross-process sync disabled for backend", "backend", cfg.Backend)
			case err != nil:
				return fmt.Errorf("watch store: %w", err)
			default:
				defer watcher.Stop()
			}

			scheduler, err := alerts.NewScheduler(eng.scanner, cfg.Alerts.Schedule,
				alerts.WithLogger(logger),
				alerts.WithEmitter(hub))
			if err != nil {
				return err
			}
			scheduler.RunOnce()
			scheduler.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := scheduler.Stop(stopCtx); err != nil {
					logger.Warn("scheduler stop", "error", err)
				}
			}()

			server, err := dashboard.New(dashboard.ConfigFrom(cfg.HTTP), dashboard.Deps{
				Ledger:    eng.ledger,
				Simulator: eng.sim,
				Scanner:   eng.scanner,
				Premium:   eng.premium,
				Catalog:   eng.catalog,
				Journal:   eng.journal,
				Hub:       hub,
			}, logger)
			if err != nil {
				return err
			}
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override HTTP.ListenAddress")
	return cmd
}
