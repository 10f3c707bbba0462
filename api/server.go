/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the warehouse UI

ROUTE GROUPS:
  /health              Liveness plus dependency checks
  /api/items/*         Items, stock operations, ledger
  /api/reconciliation  Whole-catalog ledger audit

SECURITY NOTE:
  No authentication middleware. The actor on each movement is whatever the
  caller claims; put the service behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/items", func(r chi.Router) {
		r.Get("/", h.ListItems)
		r.Post("/", h.CreateItem)
		r.Get("/low-stock", h.LowStock)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetItem)
			r.Patch("/", h.UpdateItem)
			r.Post("/deactivate", h.DeactivateItem)

			// Stock operations
			r.Post("/receive", h.Receive)
			r.Post("/allocate", h.Allocate)
			r.Post("/commit", h.Commit)
			r.Post("/release", h.Release)
			r.Post("/adjust", h.Adjust)

			// Ledger
			r.Get("/stock-log", h.StockLog)
			r.Get("/reconcile", h.Reconcile)
		})
	})

	r.Route("/api/reconciliation", func(r chi.Router) {
		r.Post("/run", h.RunAudit)
		r.Get("/last-run", h.LastAudit)
	})

	return r
}
