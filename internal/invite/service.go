// Package invite runs the invitation lifecycle: issuing a tokenised link
// with an optional one-time code, verifying the code, and provisioning an
// account when the invite is accepted.
package invite

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/event"
	"github.com/matthewbaird/rentals/internal/gateway"
	"github.com/matthewbaird/rentals/internal/notify"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// MinPasswordLength is the shortest password Accept takes.
const MinPasswordLength = 8

// Settings holds the tunables of the invite lifecycle.
type Settings struct {
	TTL             time.Duration
	CodeTTL         time.Duration
	CodeDigits      int
	FrontendBaseURL string
}

// DefaultSettings matches the defaults of the service configuration.
func DefaultSettings() Settings {
	return Settings{
		TTL:             72 * time.Hour,
		CodeTTL:         10 * time.Minute,
		CodeDigits:      6,
		FrontendBaseURL: "http://localhost:5173",
	}
}

// Service runs the invite state machine.
type Service struct {
	store    *store.Store
	sink     notify.Sink
	rec      event.Recorder
	settings Settings
	now      func() time.Time
	log      zerolog.Logger
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

// NewService creates an invite service. Zero settings fall back to
// DefaultSettings field by field.
func NewService(st *store.Store, sink notify.Sink, settings Settings, logger zerolog.Logger, opts ...Option) *Service {
	def := DefaultSettings()
	if settings.TTL <= 0 {
		settings.TTL = def.TTL
	}
	if settings.CodeTTL <= 0 {
		settings.CodeTTL = def.CodeTTL
	}
	if settings.CodeDigits <= 0 {
		settings.CodeDigits = def.CodeDigits
	}
	if settings.FrontendBaseURL == "" {
		settings.FrontendBaseURL = def.FrontendBaseURL
	}
	s := &Service{
		store:    st,
		sink:     sink,
		settings: settings,
		now:      time.Now,
		log:      logger.With().Str("component", "invite").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateRequest describes the person being invited and where to.
type CreateRequest struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	PropertyID   string `json:"property_id"`
	PropertyName string `json:"property_name"`
	UnitID       string `json:"unit_id"`
	UnitLabel    string `json:"unit_label"`
	WantsCode    bool   `json:"send_otp"`
}

// Created is the issuer's view of a new invite. The issuer passes the
// one-time code to the invitee out of band; it appears nowhere else.
type Created struct {
	Invite       *store.Invite `json:"invite"`
	Link         string        `json:"link"`
	OTPCode      string        `json:"otp_code,omitempty"`
	OTPExpiresAt *time.Time    `json:"otp_expires_at,omitempty"`
}

// Create issues a pending invite of the given kind on behalf of issuer.
func (s *Service) Create(ctx context.Context, issuer *store.Account, kind types.InviteKind, req CreateRequest) (*Created, error) {
	if kind == "" {
		kind = types.InviteKindTenant
	}
	if issuer == nil || !issuer.Role.Privileged() {
		return nil, apperr.Forbidden("only landlords or managers can create invites")
	}
	switch kind {
	case types.InviteKindTenant:
	case types.InviteKindManager:
		if issuer.Role != types.RoleLandlord {
			return nil, apperr.Forbidden("only landlords can invite managers")
		}
	default:
		return nil, apperr.Validation("unknown invite kind %q", kind)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)
	if email == "" && phone == "" {
		return nil, apperr.Validation("an email or phone number is required")
	}
	if email != "" && !strings.Contains(email, "@") {
		return nil, apperr.Validation("email: %q is not an address", req.Email)
	}
	if phone != "" {
		normalized, err := contactPhone(phone)
		if err != nil {
			return nil, apperr.Validation("phone: %v", err)
		}
		phone = normalized
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	inv := &store.Invite{
		ID:           uuid.NewString(),
		Token:        token,
		Kind:         kind,
		FullName:     strings.TrimSpace(req.FullName),
		Email:        email,
		Phone:        phone,
		InvitedBy:    issuer.ID,
		PropertyID:   req.PropertyID,
		PropertyName: req.PropertyName,
		UnitID:       req.UnitID,
		UnitLabel:    req.UnitLabel,
		ExpiresAt:    now.Add(s.settings.TTL),
		CreatedAt:    now,
	}
	if req.WantsCode {
		code, err := newCode(s.settings.CodeDigits)
		if err != nil {
			return nil, err
		}
		codeExpires := now.Add(s.settings.CodeTTL)
		inv.OTPCode, inv.OTPExpiresAt = code, &codeExpires
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}

	link := s.Link(inv)
	s.log.Info().Str("invite_id", inv.ID).Str("kind", string(kind)).Bool("otp", req.WantsCode).Msg("invite created")
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		UserID:  issuer.ID,
		Title:   titleCase(string(kind)) + " invite created",
		Message: fmt.Sprintf("Invite link generated for %s: %s", displayName(inv), link),
		Type:    types.NotificationInvite,
	})
	event.Emit(ctx, s.rec, s.log, event.NewInviteCreated(payload(inv)))
	return &Created{Invite: inv, Link: link, OTPCode: inv.OTPCode, OTPExpiresAt: inv.OTPExpiresAt}, nil
}

// Link returns the frontend URL the invitee opens.
func (s *Service) Link(inv *store.Invite) string {
	return strings.TrimRight(s.settings.FrontendBaseURL, "/") + "/invite/" + inv.Token
}

// Ref is a masked reference to a property or unit.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Summary is what an unauthenticated holder of the token may see.
type Summary struct {
	Token       string             `json:"token"`
	Kind        types.InviteKind   `json:"kind"`
	Status      types.InviteStatus `json:"status"`
	FullName    string             `json:"full_name"`
	Property    *Ref               `json:"property"`
	Unit        *Ref               `json:"unit"`
	ExpiresAt   time.Time          `json:"expires_at"`
	OTPRequired bool               `json:"otp_required"`
}

// Retrieve returns the public summary of the invite behind token, expiring
// it first when its time is up.
func (s *Service) Retrieve(ctx context.Context, token string) (*Summary, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		Token:       inv.Token,
		Kind:        inv.Kind,
		Status:      inv.Status,
		FullName:    inv.FullName,
		ExpiresAt:   inv.ExpiresAt,
		OTPRequired: inv.OTPCode != "",
	}
	if inv.PropertyID != "" {
		sum.Property = &Ref{ID: inv.PropertyID, Name: inv.PropertyName}
	}
	if inv.UnitID != "" {
		sum.Unit = &Ref{ID: inv.UnitID, Name: inv.UnitLabel}
	}
	return sum, nil
}

// VerifyCode checks the one-time code ahead of acceptance. A correct code is
// cleared; the invite stays pending.
func (s *Service) VerifyCode(ctx context.Context, token, code string) error {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	if err := pendingOnly(inv); err != nil {
		return err
	}
	if inv.OTPCode == "" {
		return apperr.New(apperr.CodeNotRequired, "a code is not required for this invite")
	}
	if err := s.checkCode(inv, code); err != nil {
		return err
	}
	ok, err := s.store.ConsumeInviteCode(ctx, inv.ID, inv.OTPCode)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent verify with the same code already cleared it.
		current, err := s.store.GetInviteByToken(ctx, token)
		if err != nil {
			return err
		}
		if current.Status != types.InvitePending {
			return apperr.InvalidState("invite is no longer pending")
		}
	}
	s.log.Info().Str("invite_id", inv.ID).Msg("invite code verified")
	return nil
}

// AcceptRequest carries the invitee's answer to an invite.
type AcceptRequest struct {
	Password string `json:"password"`
	Username string `json:"username"`
	Code     string `json:"otp"`
}

// Accept provisions the account behind an invite and marks it accepted.
// Account creation and the status write share one transaction, so a
// repeated or racing accept fails with InvalidState and leaves no account.
func (s *Service) Accept(ctx context.Context, token string, req AcceptRequest) (*store.Account, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := pendingOnly(inv); err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", MinPasswordLength)
	}
	if inv.OTPCode != "" {
		if err := s.checkCode(inv, req.Code); err != nil {
			return nil, err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	var accountID string
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		var (
			acct *store.Account
			err  error
		)
		switch inv.Kind {
		case types.InviteKindManager:
			acct, err = provisionManager(ctx, tx, inv, req.Username, string(hash), now)
		default:
			acct, err = provisionTenant(ctx, tx, inv, string(hash), now)
		}
		if err != nil {
			return err
		}
		won, err := tx.AcceptInvite(ctx, inv.ID, acct.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return apperr.InvalidState("invite is no longer pending")
		}
		accountID = acct.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("invite_id", inv.ID).Str("account_id", acct.ID).Str("role", string(acct.Role)).Msg("invite accepted")
	notify.Deliver(ctx, s.sink, s.log, notify.Notification{
		UserID:  inv.InvitedBy,
		Title:   titleCase(string(inv.Kind)) + " invite accepted",
		Message: fmt.Sprintf("%s accepted the invite.", displayName(inv)),
		Type:    types.NotificationInvite,
	})
	p := payload(inv)
	p.AccountID = acct.ID
	event.Emit(ctx, s.rec, s.log, event.NewInviteAccepted(p))
	return acct, nil
}

// provisionTenant links an existing tenant account with the invite email or
// creates a new one, then assigns the tenant role.
func provisionTenant(ctx context.Context, tx *store.Tx, inv *store.Invite, hash string, now time.Time) (*store.Account, error) {
	var acct *store.Account
	if inv.Email != "" {
		existing, err := tx.GetAccountByEmail(ctx, inv.Email)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
		case err != nil:
			return nil, err
		case existing.Role.Privileged():
			return nil, apperr.Forbidden("this invite cannot be accepted by a %s account", existing.Role)
		default:
			acct = existing
		}
	}
	if acct == nil {
		base := inv.Phone
		if inv.Email != "" {
			base, _, _ = strings.Cut(inv.Email, "@")
		}
		username, err := freeUsername(ctx, tx, base)
		if err != nil {
			return nil, err
		}
		first, last := splitName(inv.FullName)
		acct = &store.Account{
			ID:           uuid.NewString(),
			Username:     username,
			Email:        inv.Email,
			PasswordHash: hash,
			FirstName:    first,
			LastName:     last,
			Role:         types.RoleTenant,
			CreatedAt:    now,
		}
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return nil, err
		}
	}
	if err := tx.UpdateAccountProfile(ctx, acct.ID, types.RoleTenant, inv.Phone); err != nil {
		return nil, err
	}
	return acct, nil
}

// provisionManager creates a manager account owned by the inviting landlord.
func provisionManager(ctx context.Context, tx *store.Tx, inv *store.Invite, username, hash string, now time.Time) (*store.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	taken, err := tx.UsernameTaken(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.Conflict("username %q is taken", username)
	}
	if inv.Email != "" {
		_, err := tx.GetAccountByEmail(ctx, inv.Email)
		if err == nil {
			return nil, apperr.Conflict("an account with this email already exists")
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}
	first, last := splitName(inv.FullName)
	acct := &store.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        inv.Email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         types.RoleManager,
		PhoneNumber:  inv.Phone,
		LandlordID:   inv.InvitedBy,
		CreatedAt:    now,
	}
	if err := tx.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// freeUsername returns base, or base suffixed 2, 3, ... when it is taken.
func freeUsername(ctx context.Context, tx *store.Tx, base string) (string, error) {
	if base == "" {
		base = "tenant"
	}
	candidate := base
	for n := 2; ; n++ {
		taken, err := tx.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, n)
	}
}

// Cancel withdraws a pending invite. Only its issuer may cancel it.
func (s *Service) Cancel(ctx context.Context, principal *store.Account, token string) (*store.Invite, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if principal == nil || inv.InvitedBy != principal.ID {
		return nil, apperr.Forbidden("only the issuer can cancel this invite")
	}
	if err := types.ValidateTransition(types.ValidInviteTransitions, string(inv.Status), string(types.InviteCancelled)); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidState, err, "invite is no longer pending")
	}
	won, err := s.store.TransitionInvite(ctx, inv.ID, types.InviteCancelled)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperr.InvalidState("invite is no longer pending")
	}
	inv.Status = types.InviteCancelled
	s.log.Info().Str("invite_id", inv.ID).Msg("invite cancelled")
	event.Emit(ctx, s.rec, s.log, event.NewInviteCancelled(payload(inv)))
	return inv, nil
}

// List returns the invites principal issued, optionally of one kind.
func (s *Service) List(ctx context.Context, principal *store.Account, kind types.InviteKind) ([]*store.Invite, error) {
	if principal == nil || !principal.Role.Privileged() {
		return nil, apperr.Forbidden("only landlords or managers have invites")
	}
	invites, err := s.store.ListInvites(ctx, store.InviteFilter{InvitedBy: principal.ID, Kind: kind})
	if err != nil {
		return nil, err
	}
	for _, inv := range invites {
		if _, err := s.expireIfDue(ctx, inv); err != nil {
			return nil, err
		}
	}
	return invites, nil
}

// ExpireDue flips every pending invite past its expiry to EXPIRED and
// returns how many it moved.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	pending, err := s.store.ListInvites(ctx, store.InviteFilter{Status: types.InvitePending})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, inv := range pending {
		if !inv.Expired(s.now()) {
			continue
		}
		won, err := s.expireIfDue(ctx, inv)
		if err != nil {
			return n, err
		}
		if won {
			n++
		}
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("invites expired")
	}
	return n, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*store.Invite, error) {
	if token == "" {
		return nil, apperr.NotFound("invite not found")
	}
	inv, err := s.store.GetInviteByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := s.expireIfDue(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// expireIfDue moves a pending invite past its expiry to EXPIRED. inv is
// updated in place with whatever status won; the result reports whether
// this call made the move.
func (s *Service) expireIfDue(ctx context.Context, inv *store.Invite) (bool, error) {
	if inv.Status != types.InvitePending || !inv.Expired(s.now()) {
		return false, nil
	}
	won, err := s.store.TransitionInvite(ctx, inv.ID, types.InviteExpired)
	if err != nil {
		return false, err
	}
	if !won {
		current, err := s.store.GetInviteByToken(ctx, inv.Token)
		if err != nil {
			return false, err
		}
		inv.Status = current.Status
		return false, nil
	}
	inv.Status = types.InviteExpired
	event.Emit(ctx, s.rec, s.log, event.NewInviteExpired(payload(inv)))
	return true, nil
}

func pendingOnly(inv *store.Invite) error {
	switch inv.Status {
	case types.InvitePending:
		return nil
	case types.InviteExpired:
		return apperr.New(apperr.CodeExpired, "invite has expired")
	}
	return apperr.InvalidState("invite is no longer pending")
}

func (s *Service) checkCode(inv *store.Invite, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperr.Validation("a code is required")
	}
	if inv.OTPExpiresAt != nil && !s.now().Before(*inv.OTPExpiresAt) {
		return apperr.New(apperr.CodeCodeExpired, "code has expired")
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(inv.OTPCode)) != 1 {
		return apperr.New(apperr.CodeInvalidCode, "invalid code")
	}
	return nil
}

// newToken returns 128 random bits, URL-safe.
func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newCode returns a uniformly random numeric code of the given length.
func newCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating invite code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// contactPhone normalizes an invitee's phone. Kenyan mobile numbers get the
// provider's 254 form so a provisioned tenant can pay with it directly; any
// other number is kept as its 7 to 15 digits.
func contactPhone(raw string) (string, error) {
	if p, err := gateway.NormalizePhone(raw); err == nil {
		return p, nil
	}
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")
	if len(s) < 7 || len(s) > 15 {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid phone number %q", raw)
		}
	}
	return s, nil
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func displayName(inv *store.Invite) string {
	switch {
	case inv.FullName != "":
		return inv.FullName
	case inv.Email != "":
		return inv.Email
	}
	return inv.Phone
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func payload(inv *store.Invite) event.InvitePayload {
	return event.InvitePayload{
		InviteID:  inv.ID,
		Kind:      inv.Kind,
		InvitedBy: inv.InvitedBy,
		UnitID:    inv.UnitID,
		AccountID: inv.AcceptedAccountID,
	}
}
