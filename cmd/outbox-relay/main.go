package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/outbox"
	"github.com/hackgods/clinic-scheduling/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		ServiceName: "clinic-outbox-relay",
		Development: !cfg.IsProd(),
	})
	defer func() { _ = logger.Sync() }()

	if cfg.KafkaBrokers == "" {
		logger.Fatal("KAFKA_BROKERS is required for the outbox relay")
	}

	logger.Info("outbox-relay starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.OutboxInterval),
		zap.Int("batch", cfg.OutboxBatch),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "clinic-outbox-relay",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Fatal("telemetry setup error", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	writer := outbox.NewKafkaWriter(cfg.KafkaBrokers)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("error closing kafka writer", zap.Error(err))
		}
	}()

	relay := outbox.NewRelay(pgPool, outbox.NewRepository(), writer, logger,
		metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer),
		outbox.RelayConfig{PollEvery: cfg.OutboxInterval, BatchSize: cfg.OutboxBatch})

	relay.Run(rootCtx)
	logger.Info("shutdown signal received, outbox relay stopped")
}
