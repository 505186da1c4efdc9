// Command dispatcherd runs the local publish/subscribe message
// dispatcher: it loads per-service configuration from a directory, binds
// one ingress listener per service, and fans out messages to subscribers
// over Unix-domain sockets until terminated.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jfdispatch/dispatcherd/internal/config"
	"github.com/jfdispatch/dispatcherd/internal/daemon"
	"github.com/jfdispatch/dispatcherd/internal/logging"
	"github.com/jfdispatch/dispatcherd/internal/metrics"
	"github.com/jfdispatch/dispatcherd/internal/platform"
	"github.com/jfdispatch/dispatcherd/internal/reactor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"
)

func main() {
	configDir := flag.String("config-dir", "", "directory of per-service YAML configs (overrides DISPATCHERD_CONFIG_DIR)")
	// Accepted for interface compatibility with the original CLI surface;
	// this build has no per-binary working directory to chdir into, so
	// the value is parsed and discarded.
	flag.String("cmdline-binary", "", "unused; accepted for CLI compatibility")
	flag.Parse()

	cfg, err := config.LoadDaemonConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load daemon configuration")
	}
	if *configDir != "" {
		cfg.ConfigDir = *configDir
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat)})
	zerolog.DefaultContextLogger = &logger

	store, err := config.Scan(cfg.ConfigDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ConfigDir).Msg("failed to load service configuration")
	}
	logger.Info().Int("services", len(store.All())).Str("dir", cfg.ConfigDir).Msg("service configuration loaded")

	cpuMon, err := platform.NewCPUMonitor()
	if err != nil {
		logger.Warn().Err(err).Msg("cgroup CPU monitor unavailable, ingress admission will not consider CPU")
		cpuMon = nil
	}
	guard := platform.NewIngressGuard(platform.GuardConfig{
		MaxIngressMsgsPerSec: cfg.MaxIngressMsgsPerSec,
		MaxGoroutines:        cfg.MaxGoroutines,
		MaxCPUPercent:        cfg.CPURejectThreshold,
	}, cpuMon, logger)

	metricsBundle, registry := metrics.New()

	chain := reactor.New()
	d := daemon.New(store, chain, cfg.Workers, guard, logger)
	d.SetMetrics(metricsBundle)

	var scheduleCPUSample func(any)
	scheduleCPUSample = func(any) {
		guard.SampleCPU()
		chain.Timer().AddItem(nil, time.Second, scheduleCPUSample, nil)
	}
	chain.Timer().AddItem(nil, time.Second, scheduleCPUSample, nil)
	go chain.Run()

	if err := d.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start dispatcher")
	}
	logger.Info().Msg("dispatcher started")

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(registry),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	d.Shutdown()
	chain.Stop()

	logger.Info().Msg("shutdown complete")
}
