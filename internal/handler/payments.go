package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/payment"
)

// callbackAck is the only answer the provider ever gets from the callback
// endpoint; anything else makes it retry.
var callbackAck = map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}

// PaymentHandler serves the STK push endpoints.
type PaymentHandler struct {
	svc *payment.Service
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(svc *payment.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// Initiate starts an STK push for the caller's lease. The attempt is
// returned with 201 even when the gateway failed it.
// POST /v1/payments/stk/initiate
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req payment.InitiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	attempt, err := h.svc.Initiate(r.Context(), actor, req)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

// Callback receives the provider's asynchronous result. It always
// acknowledges; reconciliation problems are logged, never returned.
// POST /v1/payments/stk/callback
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("reading callback body")
		writeJSON(w, http.StatusOK, callbackAck)
		return
	}
	out, err := h.svc.Reconcile(r.Context(), raw)
	if err != nil {
		log.Error().Err(err).Msg("reconciling callback")
	} else {
		log.Debug().Bool("matched", out.Matched).Bool("applied", out.Applied).Str("payment_id", out.PaymentID).Msg("callback handled")
	}
	writeJSON(w, http.StatusOK, callbackAck)
}

// Get returns one payment attempt.
// GET /v1/payments/{id}
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListForLease returns the attempts of a lease.
// GET /v1/leases/{id}/payments
func (h *PaymentHandler) ListForLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListForLease(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": nonNil(list)})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
