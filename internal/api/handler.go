// internal/api/handler.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"scm-graph-fetcher/internal/database"
	"scm-graph-fetcher/internal/metrics"
	"scm-graph-fetcher/internal/model"
	"scm-graph-fetcher/internal/syncer"
)

// RunReporter exposes the outcome of the last ingestion run.
type RunReporter interface {
	LastSummary() (syncer.Summary, bool)
}

// Handler is the container for API dependencies.
type Handler struct {
	store  database.Store
	runs   RunReporter
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
// runs may be nil when no syncer runs in this process.
func NewRouter(store database.Store, runs RunReporter, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:  store,
		runs:   runs,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	r.Route("/api", func(r chi.Router) {
		r.Get("/commits/by/author", h.getCommitsByAuthor)
	})

	return r
}

type healthResponse struct {
	Status  string          `json:"status"`
	LastRun *syncer.Summary `json:"last_run,omitempty"`
}

// healthCheck reports whether the store answers, plus the last run if any.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if h.runs != nil {
		if last, ok := h.runs.LastSummary(); ok {
			resp.LastRun = &last
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// getCommitsByAuthor returns every stored commit whose author email matches,
// newest first.
// GET /api/commits/by/author?email=
func (h *Handler) getCommitsByAuthor(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'email' query parameter.")
		return
	}

	commits, err := h.store.ListCommitsByEmail(r.Context(), email)
	if err != nil {
		h.logger.Error("Failed to get commits by author", "email", email, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if commits == nil {
		commits = []model.Commit{}
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"data": commits})
}
