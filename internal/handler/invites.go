package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/invite"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// InviteHandler serves the invite lifecycle. Retrieve, VerifyOTP and Accept
// are reachable without an actor; holding the token is the credential.
type InviteHandler struct {
	svc *invite.Service
}

// NewInviteHandler creates an InviteHandler.
func NewInviteHandler(svc *invite.Service) *InviteHandler {
	return &InviteHandler{svc: svc}
}

// CreateInvite issues a tenant invite.
// POST /v1/invites
func (h *InviteHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, types.InviteKindTenant)
}

// CreateManagerInvite issues a manager invite.
// POST /v1/manager-invites
func (h *InviteHandler) CreateManagerInvite(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, types.InviteKindManager)
}

func (h *InviteHandler) create(w http.ResponseWriter, r *http.Request, kind types.InviteKind) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req invite.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	created, err := h.svc.Create(r.Context(), actor, kind, req)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListInvites returns the invites the caller issued, optionally ?kind=.
// GET /v1/invites
func (h *InviteHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	list, err := h.svc.List(r.Context(), actor, types.InviteKind(r.URL.Query().Get("kind")))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": nonNil(list)})
}

// Retrieve returns the public summary of an invite.
// GET /v1/invites/{token}
func (h *InviteHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Retrieve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// VerifyOTP checks the one-time code of an invite.
// POST /v1/invites/{token}/verify-otp
func (h *InviteHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OTP string `json:"otp"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	err := h.svc.VerifyCode(r.Context(), chi.URLParam(r, "token"), req.OTP)
	switch {
	case apperr.CodeOf(err) == apperr.CodeNotRequired:
		writeJSON(w, http.StatusOK, map[string]string{"detail": "OTP not required.", "code": string(apperr.CodeNotRequired)})
	case err != nil:
		domainErrorToHTTP(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"detail": "OTP verified."})
	}
}

// Accept provisions the invitee's account.
// POST /v1/invites/{token}/accept
func (h *InviteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req invite.AcceptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	acct, err := h.svc.Accept(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Detail  string         `json:"detail"`
		Account *store.Account `json:"account"`
	}{"Invite accepted. Please log in.", acct})
}

// Cancel withdraws a pending invite.
// POST /v1/invites/{token}/cancel
func (h *InviteHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	inv, err := h.svc.Cancel(r.Context(), actor, chi.URLParam(r, "token"))
	if err != nil {
		domainErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
