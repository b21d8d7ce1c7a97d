package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentrelay/agentrelay/internal/api/handlers"
	"github.com/agentrelay/agentrelay/internal/api/middleware"
	"github.com/agentrelay/agentrelay/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.IdentityExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth().Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Locale", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Request processing
		r.Post("/requests", h.ProcessRequest)
		r.Post("/intent", h.AnalyzeIntent)

		// Agent registry
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Get("/discover", h.DiscoverAgents)
			r.Get("/health", h.AllAgentHealth)
			r.Get("/recommend", h.RecommendAgents)
			r.Route("/{agentType}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Get("/health", h.AgentHealth)
				r.Put("/enabled", h.SetAgentEnabled)
				r.Put("/priority", h.SetAgentPriority)
				r.Get("/fallback-strategy", h.GetFallbackStrategy)
				r.Put("/fallback-strategy", h.SetFallbackStrategy)
				r.Get("/errors", h.RecentErrors)
			})
		})

		// Resilience observability
		r.Route("/breakers", func(r chi.Router) {
			r.Get("/", h.ListBreakers)
			r.Post("/{agentType}/reset", h.ResetBreaker)
		})
		r.Get("/errors", h.ErrorStatistics)

		// Performance
		r.Route("/metrics", func(r chi.Router) {
			r.Get("/", h.AgentMetrics)
			r.Get("/recommendations", h.OptimizationRecommendations)
		})
		r.Post("/cache/purge", h.PurgeCache)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "agentrelay",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "agentrelay",
		})
	}
}
