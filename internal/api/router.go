package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/appointment"
	"github.com/hackgods/clinic-appointment-store/internal/store"
)

type RouterConfig struct {
	Service     *appointment.Service
	Projector   *appointment.Projector
	Store       store.Store
	StoreDriver string
	Redis       *redis.Client
	Env         string
	Version     string
	Logger      zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Store, cfg.StoreDriver, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{
		svc:      cfg.Service,
		proj:     cfg.Projector,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      cfg.Logger.With().Str("component", "http").Logger(),
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/appointments/{emails}", h.listByDoctorEmails)
		r.Get("/clinics/{clinic}/appointments", h.listByClinic)
		r.Get("/days/{date}/appointments", h.listDay)

		r.Route("/doctors/{userID}/appointments", func(r chi.Router) {
			r.Post("/", h.createAppointment)
			r.Get("/{id}", h.getAppointment)
			r.Put("/{id}", h.updateAppointment)
			r.Delete("/{id}", h.deleteAppointment)
			r.Post("/{id}/cancel", h.cancelAppointment)
		})
	})

	return r
}
