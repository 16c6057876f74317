package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

var march2024 = types.Period{Year: 2024, Month: time.March}

func testLease(dueDay int, rent int64) *store.Lease {
	return &store.Lease{
		ID:              "lease-1",
		UnitID:          "unit-1",
		TenantID:        "tenant-1",
		LandlordID:      "landlord-1",
		RentAmountCents: rent,
		Currency:        "KES",
		DueDay:          dueDay,
		Status:          types.LeaseActive,
	}
}

func attempt(status types.PaymentStatus, amount int64) *store.PaymentAttempt {
	return &store.PaymentAttempt{LeaseID: "lease-1", Period: "2024-03", AmountCents: amount, Status: status}
}

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC)
}

func TestComputeStatus(t *testing.T) {
	tests := []struct {
		name     string
		dueDay   int
		asOf     time.Time
		attempts []*store.PaymentAttempt
		want     types.RentStanding
		balance  int64
		period   types.Period
	}{
		{"unpaid before due day", 5, day(3), nil, types.StandingUnpaid, 10000, types.Period{}},
		{"unpaid on due day", 5, day(5), nil, types.StandingUnpaid, 10000, types.Period{}},
		{"overdue after due day", 5, day(10), nil, types.StandingOverdue, 10000, types.Period{}},
		{"partial before due day", 5, day(3), []*store.PaymentAttempt{attempt(types.PaymentSuccess, 4000)}, types.StandingPartial, 6000, types.Period{}},
		{"partial becomes overdue", 5, day(10), []*store.PaymentAttempt{attempt(types.PaymentSuccess, 4000)}, types.StandingOverdue, 6000, types.Period{}},
		{"paid in full", 5, day(10), []*store.PaymentAttempt{attempt(types.PaymentSuccess, 10000)}, types.StandingPaid, 0, types.Period{}},
		{"overpaid", 5, day(10), []*store.PaymentAttempt{attempt(types.PaymentSuccess, 7000), attempt(types.PaymentSuccess, 5000)}, types.StandingPaid, -2000, types.Period{}},
		{"due day past month end", 31, time.Date(2024, time.April, 30, 23, 0, 0, 0, time.UTC), nil, types.StandingUnpaid, 10000, types.Period{}},
		{"past period with balance", 28, time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC), nil, types.StandingOverdue, 10000, march2024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			period := tt.period
			if period.IsZero() {
				period = types.PeriodOf(tt.asOf)
			}
			for _, a := range tt.attempts {
				a.Period = period.String()
			}
			got := ComputeStatus(testLease(tt.dueDay, 10000), period, tt.asOf, tt.attempts)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.balance, got.Balance.AmountCents)
			assert.Equal(t, int64(10000), got.RentDue.AmountCents)
		})
	}
}

func TestComputeStatus_IgnoresNonSuccessAttempts(t *testing.T) {
	lease := testLease(5, 10000)
	base := []*store.PaymentAttempt{attempt(types.PaymentSuccess, 4000)}
	want := ComputeStatus(lease, march2024, day(3), base)

	noise := append([]*store.PaymentAttempt{}, base...)
	noise = append(noise,
		attempt(types.PaymentPending, 6000),
		attempt(types.PaymentFailed, 6000),
		&store.PaymentAttempt{LeaseID: "lease-2", Period: "2024-03", AmountCents: 6000, Status: types.PaymentSuccess},
		&store.PaymentAttempt{LeaseID: "lease-1", Period: "2024-02", AmountCents: 6000, Status: types.PaymentSuccess},
	)
	got := ComputeStatus(lease, march2024, day(3), noise)
	assert.Equal(t, want, got)
	assert.Equal(t, types.StandingPartial, got.Status)
}
