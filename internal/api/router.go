package api

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/admission"
	"github.com/screenvet/screenvet/internal/store"
	"github.com/screenvet/screenvet/internal/vetting"
)

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	sessions *store.SessionStore,
	turns *store.TurnStore,
	controller *admission.Controller,
	orch *vetting.Orchestrator,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db)
	screeningH := NewScreeningHandler(controller, orch, logger)
	emailH := NewEmailHandler(orch, logger)
	sessionH := NewSessionHandler(sessions, turns, logger)

	r.Get("/health", healthH.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/screenings", screeningH.Initiate)
		r.Post("/webhooks/email", emailH.Inbound)
		r.Get("/sessions/{id}", sessionH.Get)
	})

	return r
}
