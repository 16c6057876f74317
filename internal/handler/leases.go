package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/rentals/internal/lease"
	"github.com/matthewbaird/rentals/internal/ledger"
	"github.com/matthewbaird/rentals/internal/types"
)

// LeaseHandler serves the lease lifecycle and the ledger read paths.
type LeaseHandler struct {
	leases *lease.Service
	ledger *ledger.Service
}

// NewLeaseHandler creates a LeaseHandler.
func NewLeaseHandler(leases *lease.Service, l *ledger.Service) *LeaseHandler {
	return &LeaseHandler{leases: leases, ledger: l}
}

// CreateLease opens an active lease.
// POST /v1/leases
func (h *LeaseHandler) CreateLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req lease.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	l, err := h.leases.Create(r.Context(), actor, req)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// GetLease returns one lease.
// GET /v1/leases/{id}
func (h *LeaseHandler) GetLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	l, err := h.leases.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListLeases returns the caller's leases, optionally filtered by ?status=.
// GET /v1/leases
func (h *LeaseHandler) ListLeases(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	status := types.LeaseStatus(r.URL.Query().Get("status"))
	list, err := h.leases.List(r.Context(), actor, status)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leases": nonNil(list)})
}

// EndLease ends an active lease.
// POST /v1/leases/{id}/end
func (h *LeaseHandler) EndLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	l, err := h.leases.End(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// RentStatus returns the derived standing of a lease for ?period=YYYY-MM,
// defaulting to the current period.
// GET /v1/leases/{id}/rent-status
func (h *LeaseHandler) RentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}
	st, err := h.ledger.Status(r.Context(), actor, chi.URLParam(r, "id"), period)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DashboardSummary aggregates the caller's active leases for ?period=.
// GET /v1/dashboard/summary
func (h *LeaseHandler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}
	sum, err := h.ledger.Summary(r.Context(), actor, period)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
