// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhost/warden/internal/config"
	"github.com/wardenhost/warden/internal/logging"
	"github.com/wardenhost/warden/internal/observability"
	"github.com/wardenhost/warden/internal/plugin"
	"github.com/wardenhost/warden/internal/plugin/lua"
	"github.com/wardenhost/warden/internal/xdg"
	"github.com/wardenhost/warden/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin runtime",
		Long: `Load every plugin under the plugins directory, watch for changes,
and serve metrics and health probes until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("log.level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", "json", "log format (json, text)")
	cmd.Flags().String("plugins.dir", "", "plugins directory (defaults to XDG data dir)")
	cmd.Flags().String("plugins.profile", "safe", "default capability profile")
	cmd.Flags().Bool("plugins.watch", true, "reload plugins on file changes")
	cmd.Flags().String("observability.addr", "127.0.0.1:9190", "metrics and health listen address")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logging.SetDefault("warden", version, cfg.Log.Format, cfg.Log.Level)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := xdg.EnsureDir(cfg.Plugins.Dir); err != nil {
		return err
	}

	rt := plugin.NewRuntime(plugin.RuntimeConfig{
		PluginsDir:     cfg.Plugins.Dir,
		HostAPI:        plugin.CurrentAPIVersion,
		DefaultProfile: cfg.Plugins.Profile,
		MaxPlugins:     cfg.Plugins.Max,
		Watch:          cfg.Plugins.Watch,
		WatchPatterns:  cfg.Plugins.Patterns,
		CallTimeout:    cfg.Plugins.CallTimeout,
		Controller: plugin.ControllerConfig{
			Debounce: plugin.NewFixedDelay(cfg.Reload.Debounce),
			Backoff: plugin.NewExponentialBackoff(
				cfg.Reload.BackoffInitial,
				cfg.Reload.BackoffMultiplier,
				cfg.Reload.BackoffMax,
			),
			MaxRetries:       cfg.Reload.MaxRetries,
			BreakerThreshold: cfg.Reload.BreakerThreshold,
			BreakerTimeout:   cfg.Reload.BreakerTimeout,
		},
	}, lua.NewFactory())

	var ready atomic.Bool

	var obs *observability.Server
	if cfg.Observability.Enabled {
		server, err := observability.NewServer(cfg.Observability.Addr, rt, ready.Load)
		if err != nil {
			return err
		}
		if _, err := server.Start(); err != nil {
			errutil.LogError(logger, "observability server failed to start", err)
			return err
		}
		obs = server
	}

	if err := rt.LoadDir(ctx); err != nil {
		errutil.LogError(logger, "plugin directory scan failed", err)
		return err
	}
	if err := rt.Start(ctx); err != nil {
		errutil.LogError(logger, "plugin watcher failed to start", err)
		return err
	}
	ready.Store(true)

	logger.Info("warden serving",
		"plugins", len(rt.Names()),
		"dir", cfg.Plugins.Dir,
		"watch", cfg.Plugins.Watch)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if obs != nil {
		_ = obs.Stop(shutdownCtx)
	}
	return rt.Shutdown(shutdownCtx)
}
