package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentals/internal/types"
)

// Invite is an invitation to provision an account.
type Invite struct {
	ID                string             `json:"id"`
	Token             string             `json:"token"`
	Kind              types.InviteKind   `json:"kind"`
	FullName          string             `json:"full_name"`
	Email             string             `json:"email,omitempty"`
	Phone             string             `json:"phone,omitempty"`
	InvitedBy         string             `json:"invited_by"`
	PropertyID        string             `json:"property_id,omitempty"`
	PropertyName      string             `json:"property_name,omitempty"`
	UnitID            string             `json:"unit_id,omitempty"`
	UnitLabel         string             `json:"unit_label,omitempty"`
	Status            types.InviteStatus `json:"status"`
	ExpiresAt         time.Time          `json:"expires_at"`
	OTPCode           string             `json:"-"`
	OTPExpiresAt      *time.Time         `json:"otp_expires_at,omitempty"`
	AcceptedAccountID string             `json:"accepted_account_id,omitempty"`
	AcceptedAt        *time.Time         `json:"accepted_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Expired reports whether the invite is past its absolute expiry at now.
func (i *Invite) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

var inviteColumns = []string{
	"id", "token", "kind", "full_name", "email", "phone", "invited_by",
	"property_id", "property_name", "unit_id", "unit_label", "status",
	"expires_at", "otp_code", "otp_expires_at", "accepted_account_id",
	"accepted_at", "created_at",
}

func scanInvite(row interface{ Scan(...any) error }) (*Invite, error) {
	var (
		i                             Invite
		kind, status                  string
		email, phone                  sql.NullString
		propID, propName, unit, label sql.NullString
		otp, acceptedBy               sql.NullString
		otpExpires, acceptedAt        sql.NullTime
	)
	if err := row.Scan(&i.ID, &i.Token, &kind, &i.FullName, &email, &phone, &i.InvitedBy,
		&propID, &propName, &unit, &label, &status,
		&i.ExpiresAt, &otp, &otpExpires, &acceptedBy,
		&acceptedAt, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.Kind, i.Status = types.InviteKind(kind), types.InviteStatus(status)
	i.Email, i.Phone = email.String, phone.String
	i.PropertyID, i.PropertyName, i.UnitID, i.UnitLabel = propID.String, propName.String, unit.String, label.String
	i.OTPCode, i.AcceptedAccountID = otp.String, acceptedBy.String
	if otpExpires.Valid {
		t := otpExpires.Time
		i.OTPExpiresAt = &t
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		i.AcceptedAt = &t
	}
	return &i, nil
}

// CreateInvite inserts a pending invite.
func (c conn) CreateInvite(ctx context.Context, i *Invite) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	i.Status = types.InvitePending
	var otpExpires any
	if i.OTPExpiresAt != nil {
		otpExpires = i.OTPExpiresAt.UTC()
	}
	q, args := c.sb().Insert(InvitesTable.Name).
		Columns("id", "token", "kind", "full_name", "email", "phone", "invited_by",
			"property_id", "property_name", "unit_id", "unit_label", "status",
			"expires_at", "otp_code", "otp_expires_at", "created_at").
		Values(i.ID, i.Token, string(i.Kind), i.FullName, optional(i.Email), optional(i.Phone), i.InvitedBy,
			optional(i.PropertyID), optional(i.PropertyName), optional(i.UnitID), optional(i.UnitLabel), string(i.Status),
			i.ExpiresAt.UTC(), optional(i.OTPCode), otpExpires, i.CreatedAt).
		Query()
	_, err := c.exec(ctx, q, args)
	return mapErr(err, "invite")
}

// GetInviteByToken returns the invite with the given token.
func (c conn) GetInviteByToken(ctx context.Context, token string) (*Invite, error) {
	q, args := c.sb().Select(inviteColumns...).
		From(c.sb().Table(InvitesTable.Name)).
		Where(entsql.EQ("token", token)).
		Query()
	i, err := scanInvite(c.q.QueryRowContext(ctx, q, args...))
	return i, mapErr(err, "invite")
}

// InviteFilter narrows ListInvites. Empty fields are ignored.
type InviteFilter struct {
	InvitedBy string
	Kind      types.InviteKind
	Status    types.InviteStatus
}

// ListInvites returns invites matching f, newest first.
func (c conn) ListInvites(ctx context.Context, f InviteFilter) ([]*Invite, error) {
	var preds []*entsql.Predicate
	if f.InvitedBy != "" {
		preds = append(preds, entsql.EQ("invited_by", f.InvitedBy))
	}
	if f.Kind != "" {
		preds = append(preds, entsql.EQ("kind", string(f.Kind)))
	}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	sel := c.sb().Select(inviteColumns...).
		From(c.sb().Table(InvitesTable.Name)).
		OrderBy(entsql.Desc("created_at"))
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	q, args := sel.Query()
	rows, err := c.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "invites")
	}
	defer rows.Close()

	var out []*Invite
	for rows.Next() {
		i, err := scanInvite(rows)
		if err != nil {
			return nil, mapErr(err, "invite")
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// TransitionInvite moves a pending invite to a terminal status. The write is
// guarded by status = 'pending'; it reports false when another writer got
// there first.
func (c conn) TransitionInvite(ctx context.Context, id string, to types.InviteStatus) (bool, error) {
	q, args := c.sb().Update(InvitesTable.Name).
		Set("status", string(to)).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(types.InvitePending)))).
		Query()
	n, err := c.exec(ctx, q, args)
	if err != nil {
		return false, mapErr(err, "invite")
	}
	return n == 1, nil
}

// ConsumeInviteCode clears the one-time code of a pending invite, but only if
// it still holds code. It reports false when the code was already consumed.
func (c conn) ConsumeInviteCode(ctx context.Context, id, code string) (bool, error) {
	q, args := c.sb().Update(InvitesTable.Name).
		SetNull("otp_code").
		SetNull("otp_expires_at").
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(types.InvitePending)),
			entsql.EQ("otp_code", code),
		)).
		Query()
	n, err := c.exec(ctx, q, args)
	if err != nil {
		return false, mapErr(err, "invite")
	}
	return n == 1, nil
}

// AcceptInvite marks a pending invite accepted by accountID and clears any
// remaining one-time code.
func (c conn) AcceptInvite(ctx context.Context, id, accountID string, at time.Time) (bool, error) {
	q, args := c.sb().Update(InvitesTable.Name).
		Set("status", string(types.InviteAccepted)).
		Set("accepted_account_id", accountID).
		Set("accepted_at", at.UTC()).
		SetNull("otp_code").
		SetNull("otp_expires_at").
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(types.InvitePending)))).
		Query()
	n, err := c.exec(ctx, q, args)
	if err != nil {
		return false, mapErr(err, "invite")
	}
	return n == 1, nil
}
