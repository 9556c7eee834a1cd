/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Metrics:    Request counter by method and status
  5. CORS:       Cross-origin requests for the client app

ROUTE GROUPS:
  /api/users/{user}/*      Per-user engine operations
  /api/users/{user}/sim/*  Simulated backend controls (dev only)
  /api/scenarios           Demo scenarios (dev only)
  /metrics                 Prometheus scrape endpoint
  /healthz                 Liveness

SECURITY NOTE:
  No authentication middleware. The {user} path segment is trusted.

SEE ALSO:
  - handlers.go: Handler implementations
  - scenarios.go: Demo scenarios
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/progression-engine/metrics"
)

type RouterOptions struct {
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Manager

	// EnableSimulator mounts the /sim routes.
	EnableSimulator bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if opts.Metrics != nil {
		r.Use(countRequests(opts.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/users", h.ListUsers)
		if opts.EnableSimulator {
			r.Get("/scenarios", h.ListScenarios)
		}

		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/progress", h.GetProgress)
			r.Post("/balance/sync", h.SyncBalance)
			r.Post("/refresh", h.Refresh)

			r.Get("/challenges", h.ListChallenges)
			r.Post("/challenges/{id}/accept", h.AcceptChallenge)

			r.Get("/instances", h.ListInstances)
			r.Post("/instances/{id}/progress", h.RecordProgress)
			r.Post("/instances/{id}/abandon", h.AbandonChallenge)

			r.Get("/journey", h.GetJourney)
			r.Get("/events/current", h.GetCurrentEvent)
			r.Post("/events/{id}/ack", h.AcknowledgeEvent)

			r.Get("/shop", h.ListShop)
			r.Post("/shop/{id}/purchase", h.Purchase)

			r.Get("/history", h.GetHistory)
			r.Get("/notifications", h.GetNotifications)

			if opts.EnableSimulator {
				r.Route("/sim", func(r chi.Router) {
					r.Post("/activity", h.RecordActivity)
					r.Post("/faults", h.InjectFault)
					r.Post("/refuse-spends", h.RefuseSpends)
					r.Post("/balance", h.SetRemoteBalance)
				})
				r.Post("/scenarios/{id}", h.LoadScenario)
			}
		})
	})

	return r
}

func countRequests(m *metrics.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.CounterRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		})
	}
}
