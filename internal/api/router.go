package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/api/handlers"
	"github.com/tripsage/tripsage-core/internal/api/middleware"
	"github.com/tripsage/tripsage-core/internal/config"
)

const serviceName = "tripsage-agents"

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Identity)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id", "X-User-Id", "X-Session-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.APIKeys).Middleware)

	// Health & info
	r.Get("/health", healthHandler(h.Records))
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/{kind}", h.RunAgent)
		})

		r.Post("/router/classify", h.Classify)

		// Human approval gate
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", h.ListApprovals)
			r.Route("/{action}/{key}", func(r chi.Router) {
				r.Get("/", h.GetApproval)
				r.Post("/grant", h.GrantApproval)
				r.Post("/deny", h.DenyApproval)
			})
		})
	})

	return r
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(p pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check failed: record store unreachable")
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": serviceName,
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}
