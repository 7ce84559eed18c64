package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/szibis/mqtt-publisher/internal/config"
	"github.com/szibis/mqtt-publisher/internal/health"
	"github.com/szibis/mqtt-publisher/internal/logging"
	"github.com/szibis/mqtt-publisher/internal/receiver"
	"github.com/szibis/mqtt-publisher/internal/registry"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		logging.Fatal("failed to load configuration", logging.F("error", err.Error()))
	}

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}
	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	logging.SetMinLevel(logging.Level(strings.ToUpper(cfg.LogLevel)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build endpoints; invalid nodes are skipped with a logged error.
	reg, err := registry.New(cfg.Nodes)
	if err != nil {
		logging.Fatal("failed to build endpoint registry", logging.F("error", err.Error()))
	}

	// Periodic flusher bounds batch staleness under low write volume.
	go reg.Start(ctx, cfg.FlushInterval, cfg.FlushTimeout)

	// Record ingest.
	ingest := receiver.NewHTTP(cfg.ListenAddr, reg)
	go func() {
		if err := ingest.Start(); err != nil {
			logging.Error("ingest receiver error", logging.F("error", err.Error()))
		}
	}()

	// Stats and health endpoints.
	checker := health.New()
	for _, ep := range reg.Endpoints() {
		ep := ep
		checker.RegisterReadiness(ep.Name(), func() error {
			if !ep.Connected() {
				return fmt.Errorf("endpoint %s not connected", ep.Name())
			}
			return nil
		})
	}

	statsMux := http.NewServeMux()
	statsMux.Handle("/metrics", promhttp.Handler())
	statsMux.HandleFunc("/live", checker.LiveHandler())
	statsMux.HandleFunc("/ready", checker.ReadyHandler())
	statsServer := &http.Server{
		Addr:              cfg.StatsAddr,
		Handler:           statsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "path", "/metrics"))
		if err := statsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("stats server error", logging.F("error", err.Error()))
		}
	}()

	logging.Info("mqtt-publisher started", logging.F(
		"listen_addr", cfg.ListenAddr,
		"stats_addr", cfg.StatsAddr,
		"endpoints", len(reg.Endpoints()),
		"flush_interval", cfg.FlushInterval.String(),
		"flush_timeout", cfg.FlushTimeout.String(),
	))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")
	checker.SetShuttingDown()

	// Stop producers before the final flush; writes after Shutdown are
	// not protected beyond the endpoint lock.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := ingest.Stop(shutdownCtx); err != nil {
		logging.Error("ingest receiver shutdown error", logging.F("error", err.Error()))
	}

	cancel()
	reg.Wait()
	reg.Shutdown()

	_ = statsServer.Shutdown(shutdownCtx)
	logging.Info("shutdown complete")
}
