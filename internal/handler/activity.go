package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matthewbaird/rentals/internal/activity"
	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// LeaseLookup resolves leases for activity authorization. *store.Store
// satisfies it.
type LeaseLookup interface {
	GetLease(ctx context.Context, id string) (*store.Lease, error)
}

var errActivityForbidden = apperr.Forbidden("not allowed to read this activity")

// ActivityHandler serves the per-entity audit stream.
type ActivityHandler struct {
	store  activity.Store
	leases LeaseLookup
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(st activity.Store, leases LeaseLookup) *ActivityHandler {
	return &ActivityHandler{store: st, leases: leases}
}

// EntityActivity returns a chronological activity feed for one entity.
// GET /v1/activity?entity_type=&entity_id=
func (h *ActivityHandler) EntityActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	entityType, entityID := q.Get("entity_type"), q.Get("entity_id")
	if entityType == "" || entityID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "entity_type and entity_id are required")
		return
	}
	if err := h.authorize(r.Context(), actor, entityType, entityID); err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}

	opts := activity.DefaultQueryOptions()
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			opts.Since = &t
		}
	}
	if u := q.Get("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			opts.Until = &t
		}
	}
	if cats := q.Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	if mw := q.Get("min_weight"); mw != "" {
		opts.MinWeight = mw
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = min(n, 500)
		}
	}
	opts.Cursor = q.Get("cursor")

	entries, nextCursor, totalCount, err := h.store.QueryByEntity(r.Context(), entityType, entityID, opts)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Activities []types.ActivityEntry `json:"activities"`
		NextCursor string                `json:"next_cursor,omitempty"`
		TotalCount int                   `json:"total_count"`
	}{
		Activities: nonNil(entries),
		NextCursor: nextCursor,
		TotalCount: totalCount,
	})
}

// authorize lets tenants read their own account and the leases they can
// see. Every other entity type is restricted to landlords and managers.
func (h *ActivityHandler) authorize(ctx context.Context, actor *store.Account, entityType, entityID string) error {
	switch entityType {
	case "lease":
		l, err := h.leases.GetLease(ctx, entityID)
		if err != nil {
			return err
		}
		if !l.VisibleTo(actor) {
			return errActivityForbidden
		}
		return nil
	case "account":
		if entityID == actor.ID || actor.Role.Privileged() {
			return nil
		}
		return errActivityForbidden
	}
	if !actor.Role.Privileged() {
		return errActivityForbidden
	}
	return nil
}
