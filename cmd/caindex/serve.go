package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/caindex/pkg/api"
	"github.com/cuemby/caindex/pkg/config"
	"github.com/cuemby/caindex/pkg/health"
	"github.com/cuemby/caindex/pkg/log"
	"github.com/cuemby/caindex/pkg/manager"
	"github.com/cuemby/caindex/pkg/metrics"
	"github.com/cuemby/caindex/pkg/scheduler"
	"github.com/cuemby/caindex/pkg/storeclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest queue, snapshot scheduler, and HTTP surface",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("cmd")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	gw := storeclient.NewHTTPGateway(cfg.StoreAPIURL)
	mgr := manager.New(gw, cfg, cfg.SnapshotLockPath)
	mgr.Start()

	metrics.RegisterComponent("store", false, "awaiting first probe")
	storeChecker := health.NewHTTPChecker(cfg.StoreAPIURL + "/version").WithMethod("POST")
	storeProber := health.NewProber(storeChecker, 30*time.Second, 10*time.Second, func(r health.Result) {
		metrics.UpdateComponent("store", r.Healthy, r.Message)
	})
	storeProber.Start()

	metrics.RegisterComponent("ingest", true, "running")

	var sched *scheduler.Scheduler
	if cfg.AutoSnapshot {
		sched = scheduler.New(mgr, cfg.SnapshotInterval, cfg.SnapshotLockPath)
		sched.Start()
		logger.Info().Dur("interval", cfg.SnapshotInterval).Msg("snapshot scheduler started")
	} else {
		logger.Info().Msg("AUTO_SNAPSHOT is false, scheduler disabled")
	}

	collector := metrics.NewCollector(mgr)
	collector.Start()

	server := api.NewServer(mgr)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.APIAddr); err != nil {
			errCh <- err
		}
	}()
	metrics.RegisterComponent("api", true, "ready")
	logger.Info().Str("addr", cfg.APIAddr).Msg("caindex serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server error")
	}

	if sched != nil {
		sched.Stop()
	}
	storeProber.Stop()
	collector.Stop()
	server.Stop()
	mgr.Stop()

	logger.Info().Msg("shutdown complete")
	return nil
}
