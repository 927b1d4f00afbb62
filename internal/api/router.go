package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatcache/internal/api/middleware"
	"github.com/eldtechnologies/chatcache/internal/handlers"
	"github.com/eldtechnologies/chatcache/internal/orchestrator"
)

// NewRouter creates and configures the HTTP router over the cache.
func NewRouter(logger zerolog.Logger, cache *orchestrator.Orchestrator) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB max body; batch ingests can be large
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the chat client calls from its own origin or a webview
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(cache)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/status", h.GetStatus)
	r.Post("/online", h.PostOnline)

	r.Route("/rooms/{id}", func(r chi.Router) {
		r.Get("/messages", h.GetRoomMessages)
		r.Put("/messages", h.PutRoomMessages)
		r.Post("/sync-plan", h.PostSyncPlan)
	})
	r.Post("/messages", h.PostMessage)
	r.Patch("/messages/{id}", h.PatchMessage)
	r.Delete("/rooms/{roomID}/messages/{id}", h.DeleteMessage)

	r.Get("/users/{id}/rooms", h.GetUserRooms)
	r.Put("/users/{id}/rooms", h.PutUserRooms)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/metrics", h.GetMetrics)
		r.Post("/optimize", h.PostOptimize)
		r.Post("/clear", h.PostClear)
	})

	return r
}
