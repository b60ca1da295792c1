/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the gateway
  3. Logger:     zap request logging (middleware.go)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the HR frontend

ROUTE GROUPS:
  /api/cases/*          Case lifecycle, history, timeline, action records
  /api/actions/*        Milestone action status
  /api/milestones/*     Effective catalog, overrides, guidance
  /api/employees/*      Bradford Factor, trigger evaluation
  /api/triggers/*       Trigger configuration
  /api/settings         Organisation settings
  /api/long-term/sweep  On-demand long-term flag reconciliation
  /api/scenarios/*      Demo data loaders (only when enabled)
  /healthz              Liveness and database check

SECURITY NOTE:
  The service trusts the tenant headers (middleware.go). It must only be
  reachable through the authenticating gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds the router's cross-cutting settings.
type RouterConfig struct {
	AllowedOrigins []string
	Logger         *zap.Logger
	// Scenarios mounts the demo scenario loaders (scenarios.go).
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderOrganisation, HeaderActor, HeaderPlatformAdmin},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Post("/", h.ReportCase)
			r.Get("/{id}", h.GetCase)
			r.Put("/{id}/absence", h.UpdateAbsence)
			r.Post("/{id}/transitions", h.Transition)
			r.Get("/{id}/transitions", h.CaseHistory)
			r.Get("/{id}/available-actions", h.AvailableActions)
			r.Get("/{id}/timeline", h.CaseTimeline)
			r.Get("/{id}/actions", h.CaseActionRecords)
		})

		r.Patch("/actions/{id}", h.UpdateActionStatus)

		r.Route("/milestones", func(r chi.Router) {
			r.Get("/", h.ListMilestones)
			r.Put("/{key}", h.SetMilestoneOverride)
			r.Delete("/{key}", h.DeleteMilestoneOverride)
			r.Get("/{key}/guidance", h.GetGuidance)
			r.Put("/{key}/guidance", h.SetGuidance)
			r.Delete("/{key}/guidance", h.DeleteGuidance)
		})

		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/bradford", h.Bradford)
			r.Post("/triggers/evaluate", h.EvaluateTriggers)
		})

		r.Put("/triggers/{id}", h.SetTriggerConfig)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Post("/long-term/sweep", h.SweepLongTerm)

		if cfg.Scenarios {
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		}
	})

	return r
}
