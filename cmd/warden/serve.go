package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorlake/warden/internal/breaker"
	"github.com/mirrorlake/warden/internal/config"
	"github.com/mirrorlake/warden/internal/health"
	"github.com/mirrorlake/warden/internal/history"
	"github.com/mirrorlake/warden/internal/history/factory"
	"github.com/mirrorlake/warden/internal/logger"
	"github.com/mirrorlake/warden/internal/metrics"
	"github.com/mirrorlake/warden/internal/server"
	"github.com/mirrorlake/warden/internal/supervisor"
)

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision daemon",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runServe(flags.ConfigPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Writer(), cfg.Log.Level, cfg.Log.Color)
	slog.SetDefault(log)

	collector := metrics.NewCollector(cfg.Metrics.Capacity)
	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var breakers []*breaker.Breaker
	var checkers []health.Checker
	for _, a := range cfg.APIs {
		threshold := a.FailureThreshold
		if threshold == 0 {
			threshold = 3
		}
		recovery := a.RecoveryTimeout
		if recovery == 0 {
			recovery = 30 * time.Second
		}
		b, err := breaker.New(breaker.Config{
			Name:             a.Name,
			FailureThreshold: threshold,
			RecoveryTimeout:  recovery,
		})
		if err != nil {
			return err
		}
		breakers = append(breakers, b)
		checkers = append(checkers, health.NewAPIChecker(a.Name, health.NewHTTPProbe(nil, a.URL), b))
	}
	if len(cfg.Health.Mounts) > 0 {
		checkers = append(checkers, health.NewStorageChecker(cfg.Health.Mounts))
	}
	checkers = append(checkers, health.NewResourceChecker(cfg.Health.DiskPath, cfg.Health.Threshold))
	manager := health.NewManager(log, collector, cfg.Health.ProbeTimeout, checkers...)

	var sink history.Sink
	if len(cfg.History.Sinks) > 0 {
		var ms history.MultiSink
		for _, dsn := range cfg.History.Sinks {
			s, err := factory.NewSinkFromDSN(dsn)
			if err != nil {
				return fmt.Errorf("history sink %q: %w", dsn, err)
			}
			ms = append(ms, s)
		}
		sink = ms
		defer func() { _ = ms.Close() }()
	}

	sup, err := supervisor.New(cfg.Supervisor, log, collector, sink, cfg.Descriptors()...)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := sup.StartAll(ctx); err != nil {
		log.Error("startup aborted", "error", err)
		_ = sup.Shutdown(ctx)
		return err
	}
	sup.StartMonitor()

	srv := server.NewServer(cfg.Server.Listen, server.NewRouter(sup, manager, collector, breakers, ""))
	log.Info("control plane listening", "addr", cfg.Server.Listen)

	// Shutdown is idempotent, so a second signal during teardown is harmless.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("termination signal received", "signal", sig.String())

	shCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	return sup.Shutdown(shCtx)
}
