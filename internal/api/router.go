package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/appointly/booking-engine/internal/booking"
	"github.com/appointly/booking-engine/internal/notify"
)

type RouterConfig struct {
	Service       *booking.Service
	Notifications *notify.Store
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Env           string
	Version       string
	Logger        *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(IdentityMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/appointment-types", listAppointmentTypesHandler(cfg.Service))

	r.Post("/professionals/{id}/availability", createAvailabilityHandler(cfg.Service))
	r.Get("/professionals/{id}/availability", listAvailabilityHandler(cfg.Service))
	r.Post("/availability/{id}/slots", generateSlotsHandler(cfg.Service))
	r.Get("/slots", listSlotsHandler(cfg.Service))

	r.Post("/appointments", createAppointmentHandler(cfg.Service))
	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Put("/appointments/{id}/status", updateAppointmentStatusHandler(cfg.Service))
	r.Get("/appointments/{id}/history", listHistoryHandler(cfg.Service))
	r.Post("/appointments/{id}/rating", rateAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/communications", createCommunicationHandler(cfg.Service))

	r.Get("/notifications", listNotificationsHandler(cfg.Notifications))
	r.Put("/notifications/{id}/read", markNotificationReadHandler(cfg.Notifications))

	return r
}
