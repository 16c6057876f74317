package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentals/internal/activity"
	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/types"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLease(unit string) *Lease {
	return &Lease{
		ID:              uuid.NewString(),
		PropertyID:      "prop-1",
		UnitID:          unit,
		UnitLabel:       "A1",
		TenantID:        "tenant-1",
		LandlordID:      "landlord-1",
		RentAmountCents: 1000000,
		DueDay:          5,
		CreatedBy:       "landlord-1",
	}
}

func TestLeases_OneActiveLeasePerUnit(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first := testLease("unit-1")
	require.NoError(t, s.CreateLease(ctx, first))
	assert.Equal(t, types.LeaseActive, first.Status)
	assert.Equal(t, types.DefaultCurrency, first.Currency)

	err := s.CreateLease(ctx, testLease("unit-1"))
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, s.CreateLease(ctx, testLease("unit-2")))

	ended, err := s.EndLease(ctx, first.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ended)
	ended, err = s.EndLease(ctx, first.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ended, "an inactive lease cannot end twice")

	require.NoError(t, s.CreateLease(ctx, testLease("unit-1")), "ending the lease frees the unit")

	got, err := s.GetLease(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LeaseInactive, got.Status)
	require.NotNil(t, got.EndedAt)

	active, err := s.ListLeases(ctx, LeaseFilter{Status: types.LeaseActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestLease_Visibility(t *testing.T) {
	l := testLease("unit-1")
	l.ManagerID = "manager-1"

	tests := []struct {
		name    string
		account *Account
		visible bool
		manages bool
	}{
		{"tenant", &Account{ID: "tenant-1", Role: types.RoleTenant}, true, false},
		{"other tenant", &Account{ID: "tenant-2", Role: types.RoleTenant}, false, false},
		{"landlord", &Account{ID: "landlord-1", Role: types.RoleLandlord}, true, true},
		{"manager", &Account{ID: "manager-1", Role: types.RoleManager}, true, true},
		{"other manager", &Account{ID: "manager-2", Role: types.RoleManager}, false, false},
		{"tenant id as landlord", &Account{ID: "tenant-1", Role: types.RoleLandlord}, false, false},
		{"nobody", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.visible, l.VisibleTo(tt.account))
			assert.Equal(t, tt.manages, l.ManagedBy(tt.account))
		})
	}
}

func TestAccounts_LookupAndProfile(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	a := &Account{ID: uuid.NewString(), Username: "jane", Email: " Jane@Example.com ", PasswordHash: "h", Role: types.RoleTenant}
	require.NoError(t, s.CreateAccount(ctx, a))

	got, err := s.GetAccountByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "jane@example.com", got.Email)

	err = s.CreateAccount(ctx, &Account{ID: uuid.NewString(), Username: "jane", PasswordHash: "h", Role: types.RoleTenant})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	taken, err := s.UsernameTaken(ctx, "jane")
	require.NoError(t, err)
	assert.True(t, taken)

	require.NoError(t, s.UpdateAccountProfile(ctx, a.ID, types.RoleTenant, "254711111111"))
	require.NoError(t, s.UpdateAccountProfile(ctx, a.ID, types.RoleTenant, "254722222222"))
	got, err = s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "254711111111", got.PhoneNumber, "an existing phone is kept")

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.CreateAccount(ctx, &Account{ID: "a1", Username: "rolled", PasswordHash: "h", Role: types.RoleTenant}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	taken, err := s.UsernameTaken(ctx, "rolled")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestPayments_SettleOnlyOnce(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	p := &PaymentAttempt{
		ID:          uuid.NewString(),
		LeaseID:     "lease-1",
		TenantID:    "tenant-1",
		Period:      "2024-03",
		AmountCents: 400000,
		PhoneNumber: "254712345678",
		Status:      types.PaymentSuccess,
	}
	require.NoError(t, s.CreatePayment(ctx, p))
	assert.Equal(t, types.PaymentPending, p.Status, "attempts always start pending")

	require.NoError(t, s.SetCheckoutIDs(ctx, p.ID, "m-1", "ws_CO_1"))
	byCheckout, err := s.GetPaymentByCheckoutID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byCheckout.ID)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	zero := 0
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.SettlePayment(ctx, p.ID, PaymentOutcome{
				Status:     types.PaymentSuccess,
				Receipt:    "ABC123",
				ResultCode: &zero,
				ResultDesc: "ok",
			})
			assert.NoError(t, err, "delivery %d", i)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	won, err := s.SettlePayment(ctx, p.ID, PaymentOutcome{Status: types.PaymentFailed, ResultDesc: "late"})
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentSuccess, got.Status)
	assert.Equal(t, "ABC123", got.Receipt)
	require.NotNil(t, got.ResultCode)
	assert.Equal(t, 0, *got.ResultCode)

	_, err = s.GetPaymentByCheckoutID(ctx, "ws_CO_unknown")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPayments_ListFilter(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)

	for i, period := range []string{"2024-02", "2024-03", "2024-03"} {
		require.NoError(t, s.CreatePayment(ctx, &PaymentAttempt{
			ID:          uuid.NewString(),
			LeaseID:     "lease-1",
			TenantID:    "tenant-1",
			Period:      period,
			AmountCents: 100,
			PhoneNumber: "254712345678",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}

	march, err := s.ListPayments(ctx, PaymentFilter{LeaseID: "lease-1", Period: "2024-03"})
	require.NoError(t, err)
	assert.Len(t, march, 2)

	early, err := s.ListPayments(ctx, PaymentFilter{Status: types.PaymentPending, CreatedBefore: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, early, 2)
}

func TestNotifications_OverdueKeyIsUnique(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	overdue := func() *Notification {
		return &Notification{
			ID:        uuid.NewString(),
			UserID:    "tenant-1",
			Title:     "Rent overdue",
			Type:      types.NotificationOverdue,
			LeaseID:   "lease-1",
			Period:    "2024-03",
			DedupeKey: "overdue:lease-1:2024-03",
		}
	}
	created, err := s.InsertNotification(ctx, overdue())
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.InsertNotification(ctx, overdue())
	require.NoError(t, err)
	assert.False(t, created)

	for range 2 {
		created, err = s.InsertNotification(ctx, &Notification{ID: uuid.NewString(), UserID: "tenant-1", Title: "Info", Type: types.NotificationInfo})
		require.NoError(t, err)
		assert.True(t, created, "notifications without a key never collide")
	}

	count, err := s.CountNotifications(ctx, "lease-1", types.NotificationOverdue, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	list, err := s.ListNotifications(ctx, "tenant-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)

	require.NoError(t, s.MarkNotificationRead(ctx, "tenant-1", list[0].ID))
	err = s.MarkNotificationRead(ctx, "someone-else", list[1].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestInvites_CodeAndAcceptAreConditional(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	codeExpires := time.Now().Add(10 * time.Minute)

	inv := &Invite{
		ID:           uuid.NewString(),
		Token:        "tok-1",
		Kind:         types.InviteKindTenant,
		FullName:     "Jane Doe",
		Email:        "jane@example.com",
		InvitedBy:    "landlord-1",
		ExpiresAt:    time.Now().Add(72 * time.Hour),
		OTPCode:      "123456",
		OTPExpiresAt: &codeExpires,
	}
	require.NoError(t, s.CreateInvite(ctx, inv))

	ok, err := s.ConsumeInviteCode(ctx, inv.ID, "654321")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.ConsumeInviteCode(ctx, inv.ID, "123456")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeInviteCode(ctx, inv.ID, "123456")
	require.NoError(t, err)
	assert.False(t, ok, "a code is consumed once")

	got, err := s.GetInviteByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Empty(t, got.OTPCode)
	assert.Nil(t, got.OTPExpiresAt)

	won, err := s.AcceptInvite(ctx, inv.ID, "account-1", time.Now())
	require.NoError(t, err)
	assert.True(t, won)
	won, err = s.AcceptInvite(ctx, inv.ID, "account-2", time.Now())
	require.NoError(t, err)
	assert.False(t, won)
	moved, err := s.TransitionInvite(ctx, inv.ID, types.InviteCancelled)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err = s.GetInviteByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, types.InviteAccepted, got.Status)
	assert.Equal(t, "account-1", got.AcceptedAccountID)

	pending, err := s.ListInvites(ctx, InviteFilter{Status: types.InvitePending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActivityStore_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	as := s.Activity()
	base := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)

	entry := func(id, category, weight string, at time.Time) types.ActivityEntry {
		return types.ActivityEntry{
			EventID:           id,
			EventType:         category + "_event",
			OccurredAt:        at,
			IndexedEntityType: "lease",
			IndexedEntityID:   "lease-1",
			EntityRole:        "subject",
			SourceRefs:        []types.SourceRef{{EntityType: "lease", EntityID: "lease-1", Role: "subject"}},
			Summary:           id,
			Category:          category,
			Weight:            weight,
			Polarity:          "neutral",
			Payload:           json.RawMessage(`{"id":"` + id + `"}`),
		}
	}
	entries := []types.ActivityEntry{
		entry("e1", "lease", "info", base),
		entry("e2", "payment", "major", base.Add(time.Minute)),
		entry("e3", "payment", "minor", base.Add(2*time.Minute)),
	}
	require.NoError(t, as.WriteEntries(ctx, entries))
	require.NoError(t, as.WriteEntries(ctx, entries[:1]), "rewriting an entry is a no-op")

	got, next, total, err := as.QueryByEntity(ctx, "lease", "lease-1", activity.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, next)
	require.Len(t, got, 3)
	assert.Equal(t, "e3", got[0].EventID)
	assert.Equal(t, "e1", got[2].EventID)
	assert.JSONEq(t, `{"id":"e1"}`, string(got[2].Payload))
	assert.Equal(t, entries[0].SourceRefs, got[2].SourceRefs)

	payments, _, total, err := as.QueryByEntity(ctx, "lease", "lease-1", activity.QueryOptions{Categories: []string{"payment"}, MinWeight: "major"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, payments, 1)
	assert.Equal(t, "e2", payments[0].EventID)

	page, next, _, err := as.QueryByEntity(ctx, "lease", "lease-1", activity.QueryOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.NotEmpty(t, next)
}
