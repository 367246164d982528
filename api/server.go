/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/recurrences/*    Recurrence templates and their operations
  /api/occurrences/*    Individual ledger entries
  /api/scenarios/*      Demo scenarios
  /api/health           Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Recurrence template routes
		r.Route("/recurrences", func(r chi.Router) {
			r.Get("/", h.ListRecurrences)
			r.Post("/", h.CreateRecurrence)
			r.Get("/{id}", h.GetRecurrence)
			r.Put("/{id}", h.UpdateRecurrence)
			r.Delete("/{id}", h.DeleteRecurrence)
			r.Post("/{id}/generate", h.Generate)
			r.Get("/{id}/versions", h.ListVersions)
			r.Post("/{id}/versions", h.ApplyVersion)
			r.Post("/{id}/regenerate", h.Regenerate)
			r.Get("/{id}/occurrences", h.ListOccurrences)
		})

		// Occurrence routes
		r.Route("/occurrences", func(r chi.Router) {
			r.Get("/{id}", h.GetOccurrence)
			r.Post("/{id}/cascade", h.CascadeOccurrence)
			r.Post("/{id}/override", h.OverrideOccurrence)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
