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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mwald/warden/internal/engine"
	"github.com/mwald/warden/internal/library"
	"github.com/mwald/warden/internal/scheduler"
)

// NewServeCommand creates the serve command: the long-running daemon
// with the scheduler, the single engine worker and the optional
// metrics endpoint.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the warden daemon",
		Long: `Run warden as a daemon: the scheduler computes due rules on every
tick and feeds them to the single serialized execution lane. Stops
cleanly on SIGINT/SIGTERM.

Example:
  warden serve --config /etc/warden.yaml
  warden serve --db ./warden.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(rootOpts, cmd)
		},
	}
}

func serve(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, false)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, log := a.cfg, a.log

	// Wire the engine with a real metrics registry; other commands run
	// with unregistered counters.
	registry := prometheus.NewRegistry()
	client := library.NewClient(cfg.Library.URL, cfg.Library.AccessKey, cfg.Library.Timeout(), log)
	eng := engine.New(a.store, client, client, client, engine.Config{
		Logger:              log,
		Metrics:             engine.NewMetrics(registry),
		RecentViewThreshold: cfg.Engine.LastViewedThreshold(),
	})

	sched := scheduler.New(a.store, eng, scheduler.Config{
		Tick:           cfg.Scheduler.Tick(),
		GlobalInterval: cfg.Scheduler.GlobalInterval(),
		Prune: scheduler.PruneConfig{
			Enabled:           cfg.Pruning.Enabled,
			RunLogMaxAge:      cfg.Pruning.RunLogMaxAge(),
			RunLogKeepPerRule: cfg.Pruning.RunLogKeepPerRule,
			DedupeFileEvents:  cfg.Pruning.DedupeFileEvents,
			GovernanceMaxAge:  cfg.Pruning.GovernanceMaxAge(),
		},
		Logger: log,
	})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := sched.Start(); err != nil {
		return WrapExitError(ExitCommandError, "failed to start scheduler", err)
	}

	log.Info("warden started",
		"db", cfg.Database.Path,
		"library", cfg.Library.URL,
		"tick", cfg.Scheduler.Tick().String())
	fmt.Fprintln(cmd.OutOrStdout(), "warden daemon started. Press Ctrl-C to stop.")

	err = eng.Run(ctx)

	sched.Stop()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	log.Info("warden stopped gracefully")
	return nil
}
