package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/appointment-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service   *scheduling.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	TimeZone  *time.Location
	Env       string
	Version   string
	Logger    zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints, unauthenticated
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Everything else requires an actor
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Get("/doctors/{id}/availability", availabilityHandler(cfg.Service, cfg.TimeZone))
		r.Get("/doctors/{id}/available-dates", availableDatesHandler(cfg.Service))

		r.Post("/appointments", createAppointmentHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/no-show", noShowAppointmentHandler(cfg.Service))

		r.Get("/patients/{id}/scheduling-status", schedulingStatusHandler(cfg.Service))
	})

	return r
}
