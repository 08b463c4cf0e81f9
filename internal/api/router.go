package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

type RouterConfig struct {
	Coordinator *scheduling.Coordinator
	Sweeper     *scheduling.Sweeper
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
	Logger      zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(ActorMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Slot endpoints
	r.Get("/slots", listSlotsHandler(cfg.Coordinator))
	r.Post("/slots", createSlotsHandler(cfg.Coordinator))
	r.Patch("/slots/{id}/active", setSlotActiveHandler(cfg.Coordinator))

	// Appointment endpoints
	r.Post("/appointments", bookAppointmentHandler(cfg.Coordinator))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Coordinator))
	r.Post("/appointments/{id}/confirm", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return cfg.Coordinator.Confirm(req.Context(), GetActor(req.Context()), id)
	}))
	r.Post("/appointments/{id}/check-in", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return cfg.Coordinator.CheckIn(req.Context(), GetActor(req.Context()), id)
	}))
	r.Post("/appointments/{id}/complete", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return cfg.Coordinator.Complete(req.Context(), GetActor(req.Context()), id)
	}))
	r.Post("/appointments/{id}/cancel", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return cfg.Coordinator.Cancel(req.Context(), GetActor(req.Context()), id)
	}))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Coordinator))

	// Operational endpoints
	r.Post("/admin/sweep", runSweepHandler(cfg.Sweeper))
	r.Post("/admin/slots/{id}/recount", recountSlotHandler(cfg.Coordinator))

	return r
}
