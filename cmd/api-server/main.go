package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/catalog"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		ServiceName: "clinic-api",
		Development: !cfg.IsProd(),
	})
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "clinic-api",
		Version:      version,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Fatal("telemetry setup error", zap.Error(err))
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Redis is optional. Without it bookings serialise on Postgres advisory
	// locks alone and feature flags are read straight from the database.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Warn("redis unavailable, continuing without schedule lock and feature cache", zap.Error(err))
			rdb = nil
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("error closing redis", zap.Error(err))
				}
			}()
			logger.Info("connected to Redis")
		}
	}

	services := catalog.NewPgCatalog(pgPool)
	var features catalog.FeatureGate = catalog.NewPgFeatureGate(pgPool)
	var locker booking.Locker
	if rdb != nil {
		features = catalog.NewCachedFeatureGate(features, rdb, cfg.FeatureCacheTTL)
		locker = redisclient.NewRedisScheduleLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}

	coord := booking.NewCoordinator(booking.Deps{
		Availability: availability.NewPgRepository(pgPool),
		Appointments: appointment.NewPgStore(pgPool),
		Services:     services,
		Features:     features,
		Locker:       locker,
		Logger:       logger,
		Metrics:      metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer),
		StoreTimeout: cfg.StoreTimeout,
	})

	router := api.NewRouter(api.RouterConfig{
		Scheduler: coord,
		Postgres:  pgPool,
		Redis:     rdb,
		Logger:    logger,
		JWTSecret: cfg.JWTSecret,
		SlotStep:  cfg.SlotStep,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}
}
