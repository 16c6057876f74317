// Package ledger derives the rent standing of a lease for a billing period
// from committed payment attempts. Standing is never stored; every read
// recomputes it from the SUCCESS attempts present at call time.
package ledger

import (
	"time"

	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// RentStatus is the derived standing of one lease for one period.
type RentStatus struct {
	LeaseID string             `json:"lease_id"`
	Period  types.Period       `json:"period"`
	RentDue types.Money        `json:"rent_due"`
	PaidSum types.Money        `json:"paid_sum"`
	Balance types.Money        `json:"balance"`
	Status  types.RentStanding `json:"status"`
	DueDay  int                `json:"due_day"`
	AsOf    time.Time          `json:"as_of"`
}

// Overdue reports whether the status is OVERDUE.
func (s RentStatus) Overdue() bool { return s.Status == types.StandingOverdue }

// ComputeStatus derives the standing of lease for period as of asOf, which
// must already be expressed in the billing time zone.
//
// Only SUCCESS attempts for (lease, period) count toward the paid sum;
// PENDING and FAILED attempts are ignored, as are attempts for other leases
// or periods.
//
// A positive balance becomes OVERDUE once asOf's day of month exceeds the
// lease's due day within the period, or when the period lies entirely before
// asOf. A due day past the end of a month never exceeds asOf's day in that
// month, so such a lease does not go overdue until the month has passed.
func ComputeStatus(lease *store.Lease, period types.Period, asOf time.Time, attempts []*store.PaymentAttempt) RentStatus {
	var paid int64
	key := period.String()
	for _, a := range attempts {
		if a.Status != types.PaymentSuccess || a.LeaseID != lease.ID || a.Period != key {
			continue
		}
		paid += a.AmountCents
	}
	balance := lease.RentAmountCents - paid

	var standing types.RentStanding
	switch {
	case balance <= 0:
		standing = types.StandingPaid
	case paid > 0:
		standing = types.StandingPartial
	default:
		standing = types.StandingUnpaid
	}

	if balance > 0 && pastDue(period, lease.DueDay, asOf) {
		standing = types.StandingOverdue
	}

	money := func(c int64) types.Money { return types.Money{AmountCents: c, Currency: lease.Currency} }
	return RentStatus{
		LeaseID: lease.ID,
		Period:  period,
		RentDue: money(lease.RentAmountCents),
		PaidSum: money(paid),
		Balance: money(balance),
		Status:  standing,
		DueDay:  lease.DueDay,
		AsOf:    asOf,
	}
}

func pastDue(period types.Period, dueDay int, asOf time.Time) bool {
	current := types.PeriodOf(asOf)
	if period.Before(current) {
		return true
	}
	return period == current && asOf.Day() > dueDay
}
