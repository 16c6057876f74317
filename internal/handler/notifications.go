package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/rentals/internal/notify"
	"github.com/matthewbaird/rentals/internal/store"
)

// NotificationStore is the read side of the notification sink.
// *store.Store satisfies it.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]*store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// NotificationHandler serves the caller's notifications.
type NotificationHandler struct {
	store NotificationStore
	hub   *notify.Hub
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(st NotificationStore, hub *notify.Hub) *NotificationHandler {
	return &NotificationHandler{store: st, hub: hub}
}

// List returns the caller's notifications, newest first.
// GET /v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	list, err := h.store.ListNotifications(r.Context(), actor.ID, parseLimit(r, 50, 100))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": nonNil(list)})
}

// MarkRead flags one of the caller's notifications as read.
// POST /v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.store.MarkNotificationRead(r.Context(), actor.ID, chi.URLParam(r, "id")); err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream upgrades to a websocket carrying the caller's new notifications.
// GET /v1/notifications/stream?actor=
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	h.hub.ServeWS(w, r, actor.ID)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health answers liveness probes.
// GET /healthz
func Health(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
