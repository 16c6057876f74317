package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentals/internal/types"
)

// Account is a login identity with exactly one role.
type Account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Role         types.Role `json:"role"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	LandlordID   string     `json:"landlord_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

var accountColumns = []string{
	"id", "username", "email", "password_hash", "first_name", "last_name",
	"role", "phone_number", "landlord_id", "created_at",
}

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		a                      Account
		email, phone, landlord sql.NullString
		role                   string
	)
	if err := row.Scan(&a.ID, &a.Username, &email, &a.PasswordHash, &a.FirstName, &a.LastName,
		&role, &phone, &landlord, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Email, a.PhoneNumber, a.LandlordID = email.String, phone.String, landlord.String
	a.Role = types.Role(role)
	return &a, nil
}

// CreateAccount inserts a new account. Emails are stored lower-cased.
func (c conn) CreateAccount(ctx context.Context, a *Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	q, args := c.sb().Insert(AccountsTable.Name).
		Columns(accountColumns...).
		Values(a.ID, a.Username, optional(a.Email), a.PasswordHash, a.FirstName, a.LastName,
			string(a.Role), optional(a.PhoneNumber), optional(a.LandlordID), a.CreatedAt).
		Query()
	_, err := c.exec(ctx, q, args)
	return mapErr(err, "account")
}

func (c conn) getAccountWhere(ctx context.Context, p *entsql.Predicate) (*Account, error) {
	q, args := c.sb().Select(accountColumns...).
		From(c.sb().Table(AccountsTable.Name)).
		Where(p).
		Limit(1).
		Query()
	a, err := scanAccount(c.q.QueryRowContext(ctx, q, args...))
	return a, mapErr(err, "account")
}

// GetAccount returns the account with the given id.
func (c conn) GetAccount(ctx context.Context, id string) (*Account, error) {
	return c.getAccountWhere(ctx, entsql.EQ("id", id))
}

// GetAccountByEmail performs a case-insensitive lookup.
func (c conn) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return c.getAccountWhere(ctx, entsql.EQ("email", strings.ToLower(strings.TrimSpace(email))))
}

// UsernameTaken reports whether username is already in use.
func (c conn) UsernameTaken(ctx context.Context, username string) (bool, error) {
	q, args := c.sb().Select("id").
		From(c.sb().Table(AccountsTable.Name)).
		Where(entsql.EQ("username", username)).
		Limit(1).
		Query()
	var id string
	err := c.q.QueryRowContext(ctx, q, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err, "account")
	}
	return true, nil
}

// UpdateAccountProfile sets the role and, when the account has none yet, the
// phone number.
func (c conn) UpdateAccountProfile(ctx context.Context, id string, role types.Role, phone string) error {
	if phone != "" {
		q, args := c.sb().Update(AccountsTable.Name).
			Set("phone_number", phone).
			Where(entsql.And(
				entsql.EQ("id", id),
				entsql.Or(entsql.IsNull("phone_number"), entsql.EQ("phone_number", "")),
			)).
			Query()
		if _, err := c.exec(ctx, q, args); err != nil {
			return mapErr(err, "account")
		}
	}
	q, args := c.sb().Update(AccountsTable.Name).
		Set("role", string(role)).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := c.exec(ctx, q, args)
	if err != nil {
		return mapErr(err, "account")
	}
	if n == 0 {
		return mapErr(sql.ErrNoRows, "account")
	}
	return nil
}
