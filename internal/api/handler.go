// Package api serves a small read-only HTTP status API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/example/estbot/internal/database"
	"github.com/example/estbot/pkg/models"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

// Pinger checks the database connection
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Subscribers looks up subscribers
type Subscribers interface {
	Get(ctx context.Context, id int64) (*models.Subscriber, error)
}

// ProgressSource computes subscriber progress
type ProgressSource interface {
	Progress(ctx context.Context, subscriberID int64) (models.Progress, error)
}

// Handler serves the status endpoints
type Handler struct {
	db          Pinger
	subscribers Subscribers
	progress    ProgressSource
	logger      *slog.Logger
}

// NewHandler creates a handler
func NewHandler(db Pinger, subscribers Subscribers, progress ProgressSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, subscribers: subscribers, progress: progress, logger: logger}
}

// Router returns the HTTP handler with all routes registered
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Route("/api/subscribers/{id}", func(r chi.Router) {
		r.Get("/", h.GetSubscriber)
		r.Get("/progress", h.GetProgress)
	})
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health returns the health status of the API and its database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok", "database": "ok"},
	}
	code := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, status)
}

// GetSubscriber returns the subscriber's settings
func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sub)
}

// GetProgress returns the subscriber's progress through the catalog
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	p, err := h.progress.Progress(r.Context(), sub.ID)
	if err != nil {
		h.logger.Error("Failed to compute progress", "subscriber_id", sub.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute progress")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"subscriber_id": p.SubscriberID,
		"seen":          p.Seen,
		"total":         p.Total,
		"percent":       p.Percent(),
		"flagged":       p.Flagged,
		"correct":       p.Correct,
		"incorrect":     p.Incorrect,
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*models.Subscriber, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid subscriber id")
		return nil, false
	}
	sub, err := h.subscribers.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		Error(w, http.StatusNotFound, "subscriber not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to get subscriber", "subscriber_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get subscriber")
		return nil, false
	}
	return sub, true
}
