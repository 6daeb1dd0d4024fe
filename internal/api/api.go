// Package api serves the notification history endpoints. Every route requires
// an authenticated subject; responses are scoped to that subject's records.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aslanahmtv/event-management-system/internal/auth"
	"github.com/aslanahmtv/event-management-system/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler serves the query surface over a store.
type Handler struct {
	store  store.Store
	logger zerolog.Logger
}

// New creates a query handler.
func New(st store.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		store:  st,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Register mounts the notification routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/notifications", h.list)
	mux.HandleFunc("GET /api/notifications/count", h.countUnread)
	mux.HandleFunc("GET /api/notifications/{id}", h.get)
	mux.HandleFunc("POST /api/notifications/{id}/read", h.markRead)
	mux.HandleFunc("POST /api/notifications/read-all", h.markAllRead)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	records, err := h.store.FindByRecipient(r.Context(), subject, page, pageSize)
	if err != nil {
		h.logger.Error().Err(err).Str("subject", subject).Msg("Failed to list notifications")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": records,
		"page":          page,
		"page_size":     pageSize,
	})
}

func (h *Handler) countUnread(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.store.CountUnread(r.Context(), subject)
	if err != nil {
		h.logger.Error().Err(err).Str("subject", subject).Msg("Failed to count unread")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rec, err := h.store.FindByID(r.Context(), r.PathValue("id"), subject)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("subject", subject).Msg("Failed to fetch notification")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	err := h.store.MarkRead(r.Context(), id, subject)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("subject", subject).Msg("Failed to mark notification read")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "read", "notification_id": id})
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	updated, err := h.store.MarkAllRead(r.Context(), subject)
	if err != nil {
		h.logger.Error().Err(err).Str("subject", subject).Msg("Failed to mark all read")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "read", "updated": updated})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
