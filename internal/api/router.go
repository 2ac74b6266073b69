package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"tradejournal/internal/observability"
	"tradejournal/internal/store"
)

// Server holds the HTTP server dependencies.
type Server struct {
	repo    *store.Repository
	metrics *observability.Metrics
}

// NewServer creates a new API server.
func NewServer(repo *store.Repository, metrics *observability.Metrics) *Server {
	return &Server{repo: repo, metrics: metrics}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check and metrics
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Import endpoint (POST)
		r.Post("/import", s.handleImportFills)

		r.Route("/accounts/{accountId}", func(r chi.Router) {
			// Engine operations (POST)
			r.Post("/rebuild", s.handleRebuild)
			r.Post("/consolidate", s.handleConsolidate)
			r.Post("/unwind", s.handleUnwind)
			r.Post("/regroup", s.handleRegroup)

			// Read-only query endpoints (GET)
			r.Get("/campaigns", s.handleListCampaigns)
			r.Get("/campaigns/{campaignId}", s.handleGetCampaign)
			r.Delete("/campaigns/{campaignId}", s.handleDeleteCampaign)
			r.Get("/fills", s.handleListFills)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the ownership taxonomy onto HTTP statuses: missing
// rows are 404, rows owned by another account are 403.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNotOwned):
		writeError(w, http.StatusForbidden, "not owned by account")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
