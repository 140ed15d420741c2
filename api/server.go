/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the registrar frontend

ROUTE GROUPS:
  /api/accounts/*   Account lifecycle, payments, statements
  /api/students/*   Account lookup by student
  /api/channels     Payment channel listing
  /api/admin/*      Charges and period administration

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/statement", h.GetStatement)
			r.Post("/{id}/payments", h.SubmitPayment)
			r.Post("/{id}/payments/{txID}/resolve", h.ResolvePayment)
		})

		r.Get("/students/{studentID}/accounts", h.FindAccount)

		r.Get("/channels", h.ListChannels)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/accounts/{id}/charges", h.CreateCharge)
			r.Post("/accounts/{id}/period", h.AdvancePeriod)
		})
	})

	return r
}
