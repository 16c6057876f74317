// Package types provides the shared value types of the billing domain:
// money, billing periods, roles and the status enums of every state machine.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Money represents a monetary amount using integer cents to eliminate
// floating-point errors in financial operations.
type Money struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"` // ISO 4217, e.g. "KES"
}

// String formats m as "KES 6000.00".
func (m Money) String() string {
	sign, c := "", m.AmountCents
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s %s%d.%02d", m.Currency, sign, c/100, c%100)
}

// DefaultCurrency is used when a lease is created without one.
const DefaultCurrency = "KES"

// Role is the single role carried by an account. It is resolved once per
// request from the account record.
type Role string

const (
	RoleLandlord Role = "landlord"
	RoleManager  Role = "manager"
	RoleTenant   Role = "tenant"
)

// Privileged reports whether the role manages property on someone's behalf.
// Invites may never provision into a privileged identity.
func (r Role) Privileged() bool {
	return r == RoleLandlord || r == RoleManager
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleLandlord, RoleManager, RoleTenant:
		return true
	}
	return false
}

// LeaseStatus is the lifecycle status of a lease.
type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "active"
	LeaseInactive LeaseStatus = "inactive"
)

// ValidLeaseTransitions lists allowed lease status moves.
var ValidLeaseTransitions = map[string][]string{
	string(LeaseActive):   {string(LeaseInactive)},
	string(LeaseInactive): {},
}

// PaymentStatus is the status of one payment attempt.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s PaymentStatus) Terminal() bool {
	next, ok := ValidPaymentTransitions[string(s)]
	return ok && len(next) == 0
}

// ValidPaymentTransitions lists allowed payment attempt status moves.
var ValidPaymentTransitions = map[string][]string{
	string(PaymentPending): {string(PaymentSuccess), string(PaymentFailed)},
	string(PaymentSuccess): {},
	string(PaymentFailed):  {},
}

// InviteStatus is the status of an invitation.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteExpired   InviteStatus = "expired"
	InviteCancelled InviteStatus = "cancelled"
)

// ValidInviteTransitions lists allowed invite status moves.
var ValidInviteTransitions = map[string][]string{
	string(InvitePending):   {string(InviteAccepted), string(InviteExpired), string(InviteCancelled)},
	string(InviteAccepted):  {},
	string(InviteExpired):   {},
	string(InviteCancelled): {},
}

// InviteKind selects which role an accepted invite provisions.
type InviteKind string

const (
	InviteKindTenant  InviteKind = "tenant"
	InviteKindManager InviteKind = "manager"
)

// RentStanding is the derived rent status of a lease for one period.
type RentStanding string

const (
	StandingPaid    RentStanding = "PAID"
	StandingPartial RentStanding = "PARTIAL"
	StandingUnpaid  RentStanding = "UNPAID"
	StandingOverdue RentStanding = "OVERDUE"
)

// NotificationType classifies notifications for the sink.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationPayment NotificationType = "payment"
	NotificationInvite  NotificationType = "invite"
	NotificationOverdue NotificationType = "overdue"
)

// Period is a calendar month used to bucket rent obligations and payments.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t, evaluated in t's location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses a "YYYY-MM" identifier.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: want YYYY-MM", s)
	}
	return PeriodOf(t), nil
}

// String formats the period as "YYYY-MM".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// IsZero reports whether p is the zero period.
func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// Days returns the number of days in the period.
func (p Period) Days() int {
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Before reports whether p is an earlier month than q.
func (p Period) Before(q Period) bool {
	if p.Year != q.Year {
		return p.Year < q.Year
	}
	return p.Month < q.Month
}

// MarshalJSON encodes the period as its "YYYY-MM" string.
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a "YYYY-MM" string.
func (p *Period) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// SourceRef identifies an entity affected by a domain event.
type SourceRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"` // "subject", "target", "related", "context"
}

// ActivityEntry is a secondary index entry over the domain event log,
// one per affected entity.
type ActivityEntry struct {
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	OccurredAt        time.Time       `json:"occurred_at"`
	IndexedEntityType string          `json:"indexed_entity_type"`
	IndexedEntityID   string          `json:"indexed_entity_id"`
	EntityRole        string          `json:"entity_role"`
	SourceRefs        []SourceRef     `json:"source_refs"`
	Summary           string          `json:"summary"`
	Category          string          `json:"category"` // "lease", "payment", "invite"
	Weight            string          `json:"weight"`   // "critical", "major", "minor", "info"
	Polarity          string          `json:"polarity"` // "positive", "negative", "neutral"
	Payload           json.RawMessage `json:"payload"`
}
