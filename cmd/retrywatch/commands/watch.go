// Package commands – watch.go runs the long-lived watcher daemon.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/config"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/history"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/paths"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/watcher"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Start watching the IDE's debuggable pages",
		Long: `Start the watcher daemon: scan the remote-debugging port range,
connect to every debuggable page, inject the monitor, and keep the pool
converged until interrupted.

Config changes to the accept-all toggle and poll interval hot-reload
without a restart.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	if !cfg.Enabled {
		logger.Warn("retrywatch is disabled in config; nothing to do")
		return nil
	}

	// History store is best-effort; the watcher runs fine without it.
	var hist *history.Store
	if hist, err = history.Open(paths.ResolveHistoryDBPath()); err != nil {
		logger.Warn("stats history unavailable", "error", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	w := watcher.New(cfg, nil, hist, logger)
	w.Start(ctx)

	// Hot-reload safe fields when the config file changes.
	cw := config.NewWatcher(configPath, 5*time.Second, w.ApplyConfig, logger)
	go cw.Start(ctx)

	logger.Info("retrywatch running",
		"base_port", cfg.BasePort,
		"port_radius", cfg.PortRadius,
		"max_connections", cfg.MaxConnections,
		"accept_all", cfg.AcceptAll,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	w.Stop()
	return nil
}
