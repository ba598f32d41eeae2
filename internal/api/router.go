package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Scheduler Scheduler
	Postgres  Pinger
	Redis     *redis.Client // optional
	Logger    *zap.Logger
	JWTSecret string
	SlotStep  int
	Gatherer  prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Probes and metrics are unauthenticated.
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(cfg.JWTSecret))

		r.Post("/bookings", createBookingHandler(cfg.Scheduler))
		r.Post("/availability/replace", replaceAvailabilityHandler(cfg.Scheduler))

		r.Get("/providers/{id}/availability", getAvailabilityHandler(cfg.Scheduler))
		r.Get("/providers/{id}/slots", getSlotsHandler(cfg.Scheduler, cfg.SlotStep))

		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Scheduler))
		r.Get("/appointments/{id}/history", getHistoryHandler(cfg.Scheduler))
		r.Patch("/appointments/{id}/status", updateStatusHandler(cfg.Scheduler))
		r.Post("/appointments/{id}/reschedule", rescheduleHandler(cfg.Scheduler))
	})

	return otelhttp.NewHandler(r, "clinic-api")
}
