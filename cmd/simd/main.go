package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/radar-sim-service/internal/acquire"
	"github.com/couchcryptid/radar-sim-service/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/radar-sim-service/internal/adapter/kafka"
	"github.com/couchcryptid/radar-sim-service/internal/config"
	"github.com/couchcryptid/radar-sim-service/internal/munge"
	"github.com/couchcryptid/radar-sim-service/internal/observability"
	"github.com/couchcryptid/radar-sim-service/internal/pipeline"
	"github.com/couchcryptid/radar-sim-service/internal/session"
	"github.com/couchcryptid/radar-sim-service/internal/tools"
)

// sweepInterval is how often expired session trees are reaped.
const sweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clk := clockwork.NewRealClock()

	store := acquire.NewNexradStore(cfg.StoreEndpoint, cfg.StoreTimeout, logger)
	acquirer := acquire.NewAcquirer(store, logger, metrics, cfg.DownloadFanOut, cfg.DownloadRetries)
	munger := munge.NewMunger(logger, metrics, cfg.MungeWorkers)
	runner := tools.NewRunner(cfg.ToolsDir, logger, metrics)

	// Session lifecycle events are optional; without brokers the transitions
	// stay local.
	var events pipeline.EventPublisher
	var writer *kafkaadapter.Writer
	if cfg.EventsEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		events = writer
		logger.Info("session event publishing enabled", "topic", cfg.KafkaEventTopic)
	} else {
		logger.Info("session event publishing disabled")
	}

	p := pipeline.New(acquirer, munger, runner, events, clk, logger, metrics)
	manager := session.NewManager(cfg.BaseDir, logger, metrics)
	supervisor := session.NewSupervisor(manager, p, clk, logger, cfg.SessionTTL)

	defaults := httpapi.Defaults{
		TickInterval: cfg.TickInterval,
		SpeedFactor:  cfg.SpeedFactor,
		Lookahead:    cfg.Lookahead,
	}
	srv := httpapi.NewServer(cfg.HTTPAddr, filepath.Join(cfg.BaseDir, "assets"), supervisor, defaults, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go supervisor.Sweep(ctx, sweepInterval)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	runner.Terminate()
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
