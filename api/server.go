/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/loans/*       Loan creation, preview, revocation
  /api/subloans/*    Sub-loan reads, previews, operations, events
  /api/batch         Operation batches
  /api/process       Apply due scheduled operations
  /api/accounts/*    Token balances (dev)
  /api/scenarios/*   Demo scenarios
  /metrics           Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/loans", func(r chi.Router) {
			r.Post("/", h.TakeLoan)
			r.Get("/{id}/preview", h.PreviewLoan)
			r.Post("/{id}/revoke", h.RevokeLoan)
		})

		r.Route("/subloans", func(r chi.Router) {
			r.Get("/", h.ListSubLoans)
			r.Get("/{id}", h.GetSubLoan)
			r.Get("/{id}/preview", h.PreviewSubLoan)
			r.Get("/{id}/operations", h.ListOperations)
			r.Get("/{id}/events", h.ListEvents)
		})

		r.Post("/batch", h.SubmitBatch)
		r.Post("/process", h.Process)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{account}", h.GetAccount)
			r.Post("/{account}/mint", h.MintTokens)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
