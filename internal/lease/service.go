// Package lease implements the minimal lease lifecycle the billing engine
// needs: create an active lease for a unit, read it, and end it.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/event"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// DefaultDueDay is used when a lease is created without a due day.
const DefaultDueDay = 5

// Service manages leases.
type Service struct {
	store *store.Store
	rec   event.Recorder
	now   func() time.Time
	log   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRecorder attaches a domain event recorder.
func WithRecorder(rec event.Recorder) Option {
	return func(s *Service) { s.rec = rec }
}

// NewService creates a lease service.
func NewService(st *store.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		now:   time.Now,
		log:   logger.With().Str("component", "lease").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateRequest describes a new lease.
type CreateRequest struct {
	PropertyID      string `json:"property_id"`
	PropertyName    string `json:"property_name"`
	UnitID          string `json:"unit_id"`
	UnitLabel       string `json:"unit_label"`
	TenantID        string `json:"tenant_id"`
	ManagerID       string `json:"manager_id"`
	RentAmountCents int64  `json:"rent_amount_cents"`
	Currency        string `json:"currency"`
	DueDay          int    `json:"due_day"`
}

// Create opens an active lease. Landlords lease their own units, optionally
// naming one of their managers; a manager leases on behalf of the landlord
// that employs them. A unit holds at most one active lease.
func (s *Service) Create(ctx context.Context, actor *store.Account, req CreateRequest) (*store.Lease, error) {
	if actor == nil || !actor.Role.Privileged() {
		return nil, apperr.Forbidden("only landlords or managers can create leases")
	}
	switch {
	case req.PropertyID == "":
		return nil, apperr.Validation("property_id is required")
	case req.UnitID == "":
		return nil, apperr.Validation("unit_id is required")
	case req.TenantID == "":
		return nil, apperr.Validation("tenant_id is required")
	case req.RentAmountCents <= 0:
		return nil, apperr.Validation("rent_amount_cents must be positive")
	case req.DueDay < 0 || req.DueDay > 31:
		return nil, apperr.Validation("due_day must be between 1 and 31")
	}
	if req.DueDay == 0 {
		req.DueDay = DefaultDueDay
	}

	l := &store.Lease{
		ID:              uuid.NewString(),
		PropertyID:      req.PropertyID,
		PropertyName:    req.PropertyName,
		UnitID:          req.UnitID,
		UnitLabel:       req.UnitLabel,
		TenantID:        req.TenantID,
		RentAmountCents: req.RentAmountCents,
		Currency:        req.Currency,
		DueDay:          req.DueDay,
		CreatedBy:       actor.ID,
		CreatedAt:       s.now().UTC(),
	}
	switch actor.Role {
	case types.RoleLandlord:
		l.LandlordID = actor.ID
		if req.ManagerID != "" {
			if err := s.checkAccount(ctx, req.ManagerID, types.RoleManager, actor.ID); err != nil {
				return nil, err
			}
			l.ManagerID = req.ManagerID
		}
	case types.RoleManager:
		if actor.LandlordID == "" {
			return nil, apperr.Forbidden("manager is not attached to a landlord")
		}
		l.LandlordID, l.ManagerID = actor.LandlordID, actor.ID
	}
	if err := s.checkAccount(ctx, req.TenantID, types.RoleTenant, ""); err != nil {
		return nil, err
	}

	if err := s.store.CreateLease(ctx, l); err != nil {
		return nil, err
	}
	s.log.Info().Str("lease_id", l.ID).Str("unit_id", l.UnitID).Str("tenant_id", l.TenantID).Msg("lease created")
	event.Emit(ctx, s.rec, s.log, event.NewLeaseCreated(event.LeaseCreatedPayload{
		LeaseID:    l.ID,
		PropertyID: l.PropertyID,
		UnitID:     l.UnitID,
		TenantID:   l.TenantID,
		LandlordID: l.LandlordID,
		Rent:       l.Rent(),
		DueDay:     l.DueDay,
		CreatedBy:  actor.ID,
	}))
	return l, nil
}

// checkAccount verifies that id names an account with role, and when
// landlordID is set, that it belongs to that landlord.
func (s *Service) checkAccount(ctx context.Context, id string, role types.Role, landlordID string) error {
	a, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Validation("%s %s not found", role, id)
	}
	if err != nil {
		return err
	}
	if a.Role != role {
		return apperr.Validation("account %s is not a %s", id, role)
	}
	if landlordID != "" && a.LandlordID != landlordID {
		return apperr.Validation("%s %s does not work for you", role, id)
	}
	return nil
}

// Get returns a lease visible to viewer.
func (s *Service) Get(ctx context.Context, viewer *store.Account, id string) (*store.Lease, error) {
	l, err := s.store.GetLease(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.VisibleTo(viewer) {
		return nil, apperr.Forbidden("you cannot view this lease")
	}
	return l, nil
}

// List returns the leases viewer is party to, newest first.
func (s *Service) List(ctx context.Context, viewer *store.Account, status types.LeaseStatus) ([]*store.Lease, error) {
	if viewer == nil {
		return nil, apperr.Forbidden("authentication required")
	}
	f := store.LeaseFilter{Status: status}
	switch viewer.Role {
	case types.RoleTenant:
		f.TenantID = viewer.ID
	case types.RoleLandlord:
		f.LandlordID = viewer.ID
	case types.RoleManager:
		f.ManagerID = viewer.ID
	default:
		return nil, apperr.Forbidden("unknown role %q", viewer.Role)
	}
	return s.store.ListLeases(ctx, f)
}

// End moves an active lease to inactive, freeing its unit.
func (s *Service) End(ctx context.Context, actor *store.Account, id string) (*store.Lease, error) {
	l, err := s.store.GetLease(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.ManagedBy(actor) {
		return nil, apperr.Forbidden("you cannot end this lease")
	}
	if err := types.ValidateTransition(types.ValidLeaseTransitions, string(l.Status), string(types.LeaseInactive)); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidState, err, "lease is not active")
	}
	at := s.now().UTC()
	won, err := s.store.EndLease(ctx, id, at)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperr.InvalidState("lease is not active")
	}
	s.log.Info().Str("lease_id", id).Msg("lease ended")
	event.Emit(ctx, s.rec, s.log, event.NewLeaseEnded(event.LeaseEndedPayload{
		LeaseID: id,
		UnitID:  l.UnitID,
		EndedBy: actor.ID,
		EndedAt: at,
	}))
	return s.store.GetLease(ctx, id)
}
