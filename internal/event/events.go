package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentals/internal/types"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID               string
	EventType        string
	OccurredAt       time.Time
	AffectedEntities []types.SourceRef
	Summary          string
	Category         string // "lease", "payment", "invite"
	Weight           string // "critical", "major", "minor", "info"
	Polarity         string // "positive", "negative", "neutral"
	Payload          json.RawMessage
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// short trims an id for display in summaries.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ── Lease events ─────────────────────────────────────────────────────────────

// LeaseCreatedPayload carries event-specific data for LeaseCreated.
type LeaseCreatedPayload struct {
	LeaseID    string      `json:"lease_id"`
	PropertyID string      `json:"property_id"`
	UnitID     string      `json:"unit_id"`
	TenantID   string      `json:"tenant_id"`
	LandlordID string      `json:"landlord_id"`
	Rent       types.Money `json:"rent"`
	DueDay     int         `json:"due_day"`
	CreatedBy  string      `json:"created_by"`
}

func NewLeaseCreated(p LeaseCreatedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "lease_created",
		OccurredAt: time.Now(),
		AffectedEntities: []types.SourceRef{
			{EntityType: "lease", EntityID: p.LeaseID, Role: "subject"},
			{EntityType: "unit", EntityID: p.UnitID, Role: "target"},
			{EntityType: "account", EntityID: p.TenantID, Role: "related"},
			{EntityType: "account", EntityID: p.LandlordID, Role: "context"},
		},
		Summary:  fmt.Sprintf("Lease %s created for unit %s", short(p.LeaseID), p.UnitID),
		Category: "lease",
		Weight:   "major",
		Polarity: "positive",
		Payload:  mustJSON(p),
	}
}

// LeaseEndedPayload carries event-specific data for LeaseEnded.
type LeaseEndedPayload struct {
	LeaseID string    `json:"lease_id"`
	UnitID  string    `json:"unit_id"`
	EndedBy string    `json:"ended_by"`
	EndedAt time.Time `json:"ended_at"`
}

func NewLeaseEnded(p LeaseEndedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "lease_ended",
		OccurredAt: time.Now(),
		AffectedEntities: []types.SourceRef{
			{EntityType: "lease", EntityID: p.LeaseID, Role: "subject"},
			{EntityType: "unit", EntityID: p.UnitID, Role: "target"},
		},
		Summary:  fmt.Sprintf("Lease %s ended", short(p.LeaseID)),
		Category: "lease",
		Weight:   "major",
		Polarity: "neutral",
		Payload:  mustJSON(p),
	}
}

// RentOverduePayload carries event-specific data for RentOverdue.
type RentOverduePayload struct {
	LeaseID  string      `json:"lease_id"`
	TenantID string      `json:"tenant_id"`
	Period   string      `json:"period"`
	Balance  types.Money `json:"balance"`
	DueDay   int         `json:"due_day"`
}

func NewRentOverdue(p RentOverduePayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  "rent_overdue",
		OccurredAt: time.Now(),
		AffectedEntities: []types.SourceRef{
			{EntityType: "lease", EntityID: p.LeaseID, Role: "subject"},
			{EntityType: "account", EntityID: p.TenantID, Role: "related"},
		},
		Summary:  fmt.Sprintf("Rent for %s overdue on lease %s, balance %d cents", p.Period, short(p.LeaseID), p.Balance.AmountCents),
		Category: "payment",
		Weight:   "major",
		Polarity: "negative",
		Payload:  mustJSON(p),
	}
}

// ── Payment events ───────────────────────────────────────────────────────────

// PaymentPayload carries event-specific data for payment attempt events.
type PaymentPayload struct {
	PaymentID         string      `json:"payment_id"`
	LeaseID           string      `json:"lease_id"`
	TenantID          string      `json:"tenant_id"`
	Period            string      `json:"period"`
	Amount            types.Money `json:"amount"`
	CheckoutRequestID string      `json:"checkout_request_id,omitempty"`
	Receipt           string      `json:"receipt,omitempty"`
	ResultDesc        string      `json:"result_desc,omitempty"`
}

func paymentRefs(p PaymentPayload) []types.SourceRef {
	return []types.SourceRef{
		{EntityType: "payment", EntityID: p.PaymentID, Role: "subject"},
		{EntityType: "lease", EntityID: p.LeaseID, Role: "context"},
		{EntityType: "account", EntityID: p.TenantID, Role: "related"},
	}
}

func NewPaymentInitiated(p PaymentPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        "payment_initiated",
		OccurredAt:       time.Now(),
		AffectedEntities: paymentRefs(p),
		Summary:          fmt.Sprintf("Payment of %d cents for %s initiated on lease %s", p.Amount.AmountCents, p.Period, short(p.LeaseID)),
		Category:         "payment",
		Weight:           "info",
		Polarity:         "neutral",
		Payload:          mustJSON(p),
	}
}

func NewPaymentSucceeded(p PaymentPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        "payment_succeeded",
		OccurredAt:       time.Now(),
		AffectedEntities: paymentRefs(p),
		Summary:          fmt.Sprintf("Payment of %d cents for %s received on lease %s (%s)", p.Amount.AmountCents, p.Period, short(p.LeaseID), p.Receipt),
		Category:         "payment",
		Weight:           "minor",
		Polarity:         "positive",
		Payload:          mustJSON(p),
	}
}

func NewPaymentFailed(p PaymentPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        "payment_failed",
		OccurredAt:       time.Now(),
		AffectedEntities: paymentRefs(p),
		Summary:          fmt.Sprintf("Payment for %s failed on lease %s: %s", p.Period, short(p.LeaseID), p.ResultDesc),
		Category:         "payment",
		Weight:           "minor",
		Polarity:         "negative",
		Payload:          mustJSON(p),
	}
}

// ── Invite events ────────────────────────────────────────────────────────────

// InvitePayload carries event-specific data for invite events.
type InvitePayload struct {
	InviteID  string           `json:"invite_id"`
	Kind      types.InviteKind `json:"kind"`
	InvitedBy string           `json:"invited_by"`
	UnitID    string           `json:"unit_id,omitempty"`
	AccountID string           `json:"account_id,omitempty"`
}

func inviteRefs(p InvitePayload) []types.SourceRef {
	refs := []types.SourceRef{
		{EntityType: "invite", EntityID: p.InviteID, Role: "subject"},
		{EntityType: "account", EntityID: p.InvitedBy, Role: "context"},
	}
	if p.AccountID != "" {
		refs = append(refs, types.SourceRef{EntityType: "account", EntityID: p.AccountID, Role: "target"})
	}
	if p.UnitID != "" {
		refs = append(refs, types.SourceRef{EntityType: "unit", EntityID: p.UnitID, Role: "related"})
	}
	return refs
}

func newInviteEvent(eventType, verb, weight, polarity string, p InvitePayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        eventType,
		OccurredAt:       time.Now(),
		AffectedEntities: inviteRefs(p),
		Summary:          fmt.Sprintf("%s invite %s %s", p.Kind, short(p.InviteID), verb),
		Category:         "invite",
		Weight:           weight,
		Polarity:         polarity,
		Payload:          mustJSON(p),
	}
}

func NewInviteCreated(p InvitePayload) DomainEvent {
	return newInviteEvent("invite_created", "issued", "info", "neutral", p)
}

func NewInviteAccepted(p InvitePayload) DomainEvent {
	return newInviteEvent("invite_accepted", "accepted", "minor", "positive", p)
}

func NewInviteCancelled(p InvitePayload) DomainEvent {
	return newInviteEvent("invite_cancelled", "cancelled", "info", "neutral", p)
}

func NewInviteExpired(p InvitePayload) DomainEvent {
	return newInviteEvent("invite_expired", "expired", "info", "negative", p)
}
