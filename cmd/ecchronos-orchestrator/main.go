// Command ecchronos-orchestrator runs the repair-state cache, metrics
// supplier and failure logger as a long-lived process, exposing their
// gauges over HTTP for scraping.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scylladb/go-log"

	"github.com/masokol/ecchronos/pkg/config"
	"github.com/masokol/ecchronos/pkg/repair/cache"
	"github.com/masokol/ecchronos/pkg/repair/failurelog"
	"github.com/masokol/ecchronos/pkg/repair/metrics"
	"github.com/masokol/ecchronos/pkg/repair/promsink"
)

var (
	cfgConfigFile    string
	cfgDeveloperMode bool
	cfgListenAddr    string
)

func init() {
	flag.StringVar(&cfgConfigFile, "config-file", "", "configuration file path; omitted means built-in defaults")
	flag.StringVar(&cfgListenAddr, "listen-address", ":9180", "address to serve /metrics on")
	flag.BoolVar(&cfgDeveloperMode, "developer-mode", false, "use a human-readable development logger")
}

type emptyMeterRegistry struct{}

func (emptyMeterRegistry) FailedSessionCounts(context.Context) ([]failurelog.FailedSessionCount, error) {
	return nil, nil
}

func main() {
	flag.Parse()

	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "STARTUP ERROR:\n\n%s\n", err)
		os.Exit(1)
	}
}

func realMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "configuration")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration")
	}

	logger := newLogger()
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	sink := promsink.New(registry)

	repairCache := cache.New(staticFactory{}, logger.Named("cache"), time.Duration(cfg.RefreshIntervalMs)*time.Millisecond)
	defer repairCache.Close(context.Background())

	supplier := metrics.New(sink, logger.Named("metrics"), cfg.MetricsInterval)
	defer supplier.Close(context.Background())

	failLogger := failurelog.New(emptyMeterRegistry{}, logger.Named("failurelog"),
		time.Duration(cfg.MetricsLoggerIntervalMinutes)*time.Minute, cfg.FailedRepairSessionsThresh)
	defer failLogger.Close(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfgListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info(ctx, "Orchestrator started", "listen_address", cfgListenAddr)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error(ctx, "Server error", "error", err)
	case sig := <-signalCh:
		logger.Info(ctx, "Received signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shut down HTTP server cleanly", "error", err)
	}

	logger.Info(ctx, "Orchestrator stopped")
	return nil
}

func loadConfig() (config.Config, error) {
	if cfgConfigFile == "" {
		return config.DefaultConfig(), nil
	}

	f, err := os.Open(cfgConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	defer f.Close()

	return config.Load(f)
}

func newLogger() log.Logger {
	if cfgDeveloperMode {
		return log.NewDevelopment()
	}
	logger, err := log.NewProduction(log.Config{})
	if err != nil {
		return log.NewDevelopment()
	}
	return logger
}
