package invite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/matthewbaird/rentals/internal/activity"
	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/event"
	"github.com/matthewbaird/rentals/internal/notify"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

type fixture struct {
	store    *store.Store
	svc      *Service
	landlord *store.Account
	manager  *store.Account
	tenant   *store.Account
	now      time.Time
	entries  *activity.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:   st,
		now:     time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC),
		entries: activity.NewMemoryStore(),
	}
	f.landlord = f.account(t, "landlord", "owner@example.com", types.RoleLandlord)
	f.manager = f.account(t, "manager", "manager@example.com", types.RoleManager)
	f.tenant = f.account(t, "existing", "existing@example.com", types.RoleTenant)

	f.svc = NewService(st, notify.NewStoreSink(st, nil, zerolog.Nop()), Settings{FrontendBaseURL: "https://app.example.com/"}, zerolog.Nop(),
		WithClock(func() time.Time { return f.now }),
		WithRecorder(event.NewActivityRecorder(f.entries)),
	)
	return f
}

func (f *fixture) account(t *testing.T, username, email string, role types.Role) *store.Account {
	t.Helper()
	a := &store.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: "original-hash",
		Role:         role,
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), a))
	return a
}

func (f *fixture) create(t *testing.T, req CreateRequest) *store.Invite {
	t.Helper()
	created, err := f.svc.Create(context.Background(), f.landlord, types.InviteKindTenant, req)
	require.NoError(t, err)
	// Reload so the test sees the stored one-time code.
	inv, err := f.store.GetInviteByToken(context.Background(), created.Invite.Token)
	require.NoError(t, err)
	return inv
}

func (f *fixture) invite(t *testing.T, token string) *store.Invite {
	t.Helper()
	inv, err := f.store.GetInviteByToken(context.Background(), token)
	require.NoError(t, err)
	return inv
}

func janeRequest() CreateRequest {
	return CreateRequest{
		FullName:     "Jane Wanjiru Doe",
		Email:        "Jane@Example.com",
		Phone:        "0712345678",
		PropertyID:   "prop-1",
		PropertyName: "Riverside Court",
		UnitID:       "unit-1",
		UnitLabel:    "A1",
		WantsCode:    true,
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		issuer *store.Account
		kind   types.InviteKind
		req    CreateRequest
		code   apperr.Code
	}{
		{"no contact", f.landlord, types.InviteKindTenant, CreateRequest{FullName: "Nobody"}, apperr.CodeValidation},
		{"bad email", f.landlord, types.InviteKindTenant, CreateRequest{Email: "not-an-email"}, apperr.CodeValidation},
		{"bad phone", f.landlord, types.InviteKindTenant, CreateRequest{Phone: "12"}, apperr.CodeValidation},
		{"letters in phone", f.landlord, types.InviteKindTenant, CreateRequest{Phone: "+44 77OO 900123"}, apperr.CodeValidation},
		{"unknown kind", f.landlord, types.InviteKind("janitor"), CreateRequest{Email: "a@b.co"}, apperr.CodeValidation},
		{"tenant issuer", f.tenant, types.InviteKindTenant, CreateRequest{Email: "a@b.co"}, apperr.CodeForbidden},
		{"anonymous", nil, types.InviteKindTenant, CreateRequest{Email: "a@b.co"}, apperr.CodeForbidden},
		{"manager invites manager", f.manager, types.InviteKindManager, CreateRequest{Email: "a@b.co"}, apperr.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.issuer, tt.kind, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}

	invites, err := f.store.ListInvites(ctx, store.InviteFilter{})
	require.NoError(t, err)
	assert.Empty(t, invites)
}

func TestCreate_IssuesTokenCodeAndNotifiesIssuer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.manager, "", janeRequest())
	require.NoError(t, err)

	inv := created.Invite
	assert.Equal(t, types.InviteKindTenant, inv.Kind)
	assert.Equal(t, types.InvitePending, inv.Status)
	assert.Equal(t, "jane@example.com", inv.Email)
	assert.Equal(t, "254712345678", inv.Phone)
	assert.Len(t, inv.Token, 22, "16 random bytes, unpadded base64url")
	assert.Equal(t, f.now.Add(72*time.Hour), inv.ExpiresAt)
	assert.Equal(t, "https://app.example.com/invite/"+inv.Token, created.Link)

	stored := f.invite(t, inv.Token)
	assert.Regexp(t, `^[0-9]{6}$`, stored.OTPCode)
	require.NotNil(t, stored.OTPExpiresAt)
	assert.True(t, stored.OTPExpiresAt.Equal(f.now.Add(10*time.Minute)))
	assert.Equal(t, stored.OTPCode, created.OTPCode, "issuer receives the code to pass on")
	assert.Equal(t, stored.OTPExpiresAt, created.OTPExpiresAt)

	notes, err := f.store.ListNotifications(ctx, f.manager.ID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Tenant invite created", notes[0].Title)
	assert.Contains(t, notes[0].Message, created.Link)
	assert.Equal(t, types.NotificationInvite, notes[0].Type)

	other, err := f.svc.Create(ctx, f.manager, "", janeRequest())
	require.NoError(t, err)
	assert.NotEqual(t, inv.Token, other.Invite.Token)
}

func TestCreate_WithoutCodeOmitsIt(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Create(context.Background(), f.landlord, types.InviteKindTenant, CreateRequest{FullName: "Sam", Email: "sam@example.com"})
	require.NoError(t, err)
	assert.Empty(t, created.OTPCode)
	assert.Nil(t, created.OTPExpiresAt)
}

func TestCreate_AcceptsForeignContactNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		in, want string
	}{
		{"0712 345 678", "254712345678"},
		{"+44 7700 900123", "447700900123"},
		{"+1 (415) 555-0100", "14155550100"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			created, err := f.svc.Create(ctx, f.landlord, types.InviteKindTenant, CreateRequest{FullName: "Sam", Phone: tt.in})
			require.NoError(t, err)
			assert.Equal(t, tt.want, created.Invite.Phone)
		})
	}
}

func TestRetrieve_MasksInvite(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, janeRequest())

	sum, err := f.svc.Retrieve(context.Background(), inv.Token)
	require.NoError(t, err)
	assert.Equal(t, types.InvitePending, sum.Status)
	assert.Equal(t, "Jane Wanjiru Doe", sum.FullName)
	assert.True(t, sum.OTPRequired)
	assert.Equal(t, &Ref{ID: "prop-1", Name: "Riverside Court"}, sum.Property)
	assert.Equal(t, &Ref{ID: "unit-1", Name: "A1"}, sum.Unit)

	_, err = f.svc.Retrieve(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// Invite with a code: wrong code, right code, accept, accept again.
func TestScenarioE_VerifyAcceptAndRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, janeRequest())

	err := f.svc.VerifyCode(ctx, inv.Token, "not-it")
	assert.Equal(t, apperr.CodeInvalidCode, apperr.CodeOf(err))

	require.NoError(t, f.svc.VerifyCode(ctx, inv.Token, inv.OTPCode))
	after := f.invite(t, inv.Token)
	assert.Equal(t, types.InvitePending, after.Status)
	assert.Empty(t, after.OTPCode)
	assert.Nil(t, after.OTPExpiresAt)

	err = f.svc.VerifyCode(ctx, inv.Token, inv.OTPCode)
	assert.Equal(t, apperr.CodeNotRequired, apperr.CodeOf(err))

	acct, err := f.svc.Accept(ctx, inv.Token, AcceptRequest{Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "jane", acct.Username)
	assert.Equal(t, "jane@example.com", acct.Email)
	assert.Equal(t, types.RoleTenant, acct.Role)
	assert.Equal(t, "254712345678", acct.PhoneNumber)
	assert.Equal(t, "Jane", acct.FirstName)
	assert.Equal(t, "Wanjiru Doe", acct.LastName)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte("s3cret-pass")))

	accepted := f.invite(t, inv.Token)
	assert.Equal(t, types.InviteAccepted, accepted.Status)
	assert.Equal(t, acct.ID, accepted.AcceptedAccountID)

	_, err = f.svc.Accept(ctx, inv.Token, AcceptRequest{Password: "s3cret-pass"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	taken, err := f.store.UsernameTaken(ctx, "jane2")
	require.NoError(t, err)
	assert.False(t, taken, "a repeated accept must not provision a second account")

	notes, err := f.store.ListNotifications(ctx, f.landlord.ID, 10)
	require.NoError(t, err)
	titles := make([]string, 0, len(notes))
	for _, n := range notes {
		titles = append(titles, n.Title)
	}
	assert.ElementsMatch(t, []string{"Tenant invite created", "Tenant invite accepted"}, titles)

	entries, _, _, err := f.entries.QueryByEntity(ctx, "invite", inv.ID, activity.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 2, "created and accepted")
}

func TestAccept_ValidatesCodeInline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, janeRequest())

	tests := []struct {
		name string
		req  AcceptRequest
		code apperr.Code
	}{
		{"short password", AcceptRequest{Password: "short", Code: inv.OTPCode}, apperr.CodeValidation},
		{"missing code", AcceptRequest{Password: "long-enough"}, apperr.CodeValidation},
		{"wrong code", AcceptRequest{Password: "long-enough", Code: "000000x"}, apperr.CodeInvalidCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Accept(ctx, inv.Token, tt.req)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
			assert.Equal(t, types.InvitePending, f.invite(t, inv.Token).Status)
		})
	}

	acct, err := f.svc.Accept(ctx, inv.Token, AcceptRequest{Password: "long-enough", Code: inv.OTPCode})
	require.NoError(t, err)
	assert.Equal(t, types.RoleTenant, acct.Role)
	assert.Empty(t, f.invite(t, inv.Token).OTPCode)
}

func TestAccept_PrivilegedEmailIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := janeRequest()
	req.Email, req.WantsCode = "OWNER@example.com", false
	inv := f.create(t, req)

	_, err := f.svc.Accept(ctx, inv.Token, AcceptRequest{Password: "long-enough"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	owner, err := f.store.GetAccount(ctx, f.landlord.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RoleLandlord, owner.Role)
	assert.Equal(t, "original-hash", owner.PasswordHash)
	assert.Empty(t, owner.PhoneNumber)
	assert.Equal(t, types.InvitePending, f.invite(t, inv.Token).Status)
}

func TestAccept_LinksExistingTenant(t *testing.T) {
	f := newFixture(t)
	req := janeRequest()
	req.Email, req.WantsCode = "existing@example.com", false
	inv := f.create(t, req)

	acct, err := f.svc.Accept(context.Background(), inv.Token, AcceptRequest{Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, f.tenant.ID, acct.ID)
	assert.Equal(t, "original-hash", acct.PasswordHash)
	assert.Equal(t, "254712345678", acct.PhoneNumber)
}

func TestAccept_AvoidsUsernameCollisions(t *testing.T) {
	f := newFixture(t)
	f.account(t, "jane", "", types.RoleTenant)
	f.account(t, "jane2", "", types.RoleTenant)

	inv := f.create(t, CreateRequest{FullName: "Jane", Email: "jane@example.com"})
	acct, err := f.svc.Accept(context.Background(), inv.Token, AcceptRequest{Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "jane3", acct.Username)

	phoneOnly := f.create(t, CreateRequest{FullName: "Kamau", Phone: "+254 722 000 111"})
	acct, err = f.svc.Accept(context.Background(), phoneOnly.Token, AcceptRequest{Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "254722000111", acct.Username)
	assert.Empty(t, acct.Email)
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, janeRequest())

	f.now = f.now.Add(11 * time.Minute)
	err := f.svc.VerifyCode(ctx, inv.Token, inv.OTPCode)
	assert.Equal(t, apperr.CodeCodeExpired, apperr.CodeOf(err))
	_, err = f.svc.Accept(ctx, inv.Token, AcceptRequest{Password: "long-enough", Code: inv.OTPCode})
	assert.Equal(t, apperr.CodeCodeExpired, apperr.CodeOf(err))

	f.now = f.now.Add(72 * time.Hour)
	sum, err := f.svc.Retrieve(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, types.InviteExpired, sum.Status)
	assert.Equal(t, types.InviteExpired, f.invite(t, inv.Token).Status)

	err = f.svc.VerifyCode(ctx, inv.Token, inv.OTPCode)
	assert.ErrorIs(t, err, apperr.ErrExpired)
	_, err = f.svc.Accept(ctx, inv.Token, AcceptRequest{Password: "long-enough", Code: inv.OTPCode})
	assert.ErrorIs(t, err, apperr.ErrExpired)
}

func TestVerifyCode_ExpiresLazily(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, janeRequest())

	f.now = inv.ExpiresAt
	err := f.svc.VerifyCode(context.Background(), inv.Token, inv.OTPCode)
	assert.ErrorIs(t, err, apperr.ErrExpired)
	assert.Equal(t, types.InviteExpired, f.invite(t, inv.Token).Status)
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.create(t, CreateRequest{Email: "old@example.com"})
	f.now = f.now.Add(48 * time.Hour)
	fresh := f.create(t, CreateRequest{Email: "fresh@example.com"})

	f.now = f.now.Add(25 * time.Hour)
	n, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.InviteExpired, f.invite(t, old.Token).Status)
	assert.Equal(t, types.InvitePending, f.invite(t, fresh.Token).Status)

	n, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, CreateRequest{Email: "someone@example.com"})

	_, err := f.svc.Cancel(ctx, f.manager, inv.Token)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	cancelled, err := f.svc.Cancel(ctx, f.landlord, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, types.InviteCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, f.landlord, inv.Token)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = f.svc.Accept(ctx, inv.Token, AcceptRequest{Password: "long-enough"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestList_OnlyOwnInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, CreateRequest{Email: "a@example.com"})
	_, err := f.svc.Create(ctx, f.manager, types.InviteKindTenant, CreateRequest{Email: "b@example.com"})
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, f.landlord, types.InviteKindTenant)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a@example.com", mine[0].Email)

	_, err = f.svc.List(ctx, f.tenant, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestManagerInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, f.landlord, types.InviteKindManager, CreateRequest{
		FullName: "Otieno Manager",
		Email:    "otieno@example.com",
		Phone:    "0733000111",
	})
	require.NoError(t, err)
	token := created.Invite.Token

	_, err = f.svc.Accept(ctx, token, AcceptRequest{Password: "long-enough"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Accept(ctx, token, AcceptRequest{Password: "long-enough", Username: "existing"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, types.InvitePending, f.invite(t, token).Status)

	acct, err := f.svc.Accept(ctx, token, AcceptRequest{Password: "long-enough", Username: "otieno"})
	require.NoError(t, err)
	assert.Equal(t, types.RoleManager, acct.Role)
	assert.Equal(t, f.landlord.ID, acct.LandlordID)
	assert.Equal(t, "254733000111", acct.PhoneNumber)

	notes, err := f.store.ListNotifications(ctx, f.landlord.ID, 10)
	require.NoError(t, err)
	titles := make([]string, 0, len(notes))
	for _, n := range notes {
		titles = append(titles, n.Title)
	}
	assert.ElementsMatch(t, []string{"Manager invite created", "Manager invite accepted"}, titles)
}

func TestAccept_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, CreateRequest{FullName: "Racer", Email: "racer@example.com"})

	const n = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), inv.Token, AcceptRequest{Password: "long-enough"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range errs {
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	}
	taken, err := f.store.UsernameTaken(context.Background(), "racer2")
	require.NoError(t, err)
	assert.False(t, taken)
}
