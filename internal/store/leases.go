package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentals/internal/types"
)

// Lease binds a tenant to a unit at a monthly rent.
type Lease struct {
	ID              string            `json:"id"`
	PropertyID      string            `json:"property_id"`
	PropertyName    string            `json:"property_name,omitempty"`
	UnitID          string            `json:"unit_id"`
	UnitLabel       string            `json:"unit_label,omitempty"`
	TenantID        string            `json:"tenant_id"`
	LandlordID      string            `json:"landlord_id"`
	ManagerID       string            `json:"manager_id,omitempty"`
	RentAmountCents int64             `json:"rent_amount_cents"`
	Currency        string            `json:"currency"`
	DueDay          int               `json:"due_day"`
	Status          types.LeaseStatus `json:"status"`
	CreatedBy       string            `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
}

// Rent returns the monthly rent as Money.
func (l *Lease) Rent() types.Money {
	return types.Money{AmountCents: l.RentAmountCents, Currency: l.Currency}
}

// VisibleTo reports whether a may read the lease: its tenant, its landlord
// or its assigned manager.
func (l *Lease) VisibleTo(a *Account) bool {
	if a == nil {
		return false
	}
	switch a.Role {
	case types.RoleTenant:
		return l.TenantID == a.ID
	case types.RoleLandlord:
		return l.LandlordID == a.ID
	case types.RoleManager:
		return l.ManagerID == a.ID
	}
	return false
}

// ManagedBy reports whether a may change the lease.
func (l *Lease) ManagedBy(a *Account) bool {
	return a != nil && a.Role.Privileged() && l.VisibleTo(a)
}

var leaseColumns = []string{
	"id", "property_id", "property_name", "unit_id", "unit_label", "tenant_id",
	"landlord_id", "manager_id", "rent_amount_cents", "currency", "due_day",
	"status", "created_by", "created_at", "ended_at",
}

func scanLease(row interface{ Scan(...any) error }) (*Lease, error) {
	var (
		l       Lease
		manager sql.NullString
		status  string
		ended   sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.PropertyID, &l.PropertyName, &l.UnitID, &l.UnitLabel, &l.TenantID,
		&l.LandlordID, &manager, &l.RentAmountCents, &l.Currency, &l.DueDay,
		&status, &l.CreatedBy, &l.CreatedAt, &ended); err != nil {
		return nil, err
	}
	l.ManagerID = manager.String
	l.Status = types.LeaseStatus(status)
	if ended.Valid {
		t := ended.Time
		l.EndedAt = &t
	}
	return &l, nil
}

// CreateLease inserts an active lease. A second active lease for the same
// unit violates the active_unit constraint and returns a Conflict error.
func (c conn) CreateLease(ctx context.Context, l *Lease) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.Currency == "" {
		l.Currency = types.DefaultCurrency
	}
	l.Status = types.LeaseActive
	q, args := c.sb().Insert(LeasesTable.Name).
		Columns(append(append([]string{}, leaseColumns[:len(leaseColumns)-1]...), "active_unit")...).
		Values(l.ID, l.PropertyID, l.PropertyName, l.UnitID, l.UnitLabel, l.TenantID,
			l.LandlordID, optional(l.ManagerID), l.RentAmountCents, l.Currency, l.DueDay,
			string(l.Status), l.CreatedBy, l.CreatedAt, l.UnitID).
		Query()
	_, err := c.exec(ctx, q, args)
	return mapErr(err, "active lease for unit "+l.UnitID)
}

// GetLease returns the lease with the given id.
func (c conn) GetLease(ctx context.Context, id string) (*Lease, error) {
	q, args := c.sb().Select(leaseColumns...).
		From(c.sb().Table(LeasesTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()
	l, err := scanLease(c.q.QueryRowContext(ctx, q, args...))
	return l, mapErr(err, "lease")
}

// LeaseFilter narrows ListLeases. Empty fields are ignored.
type LeaseFilter struct {
	TenantID   string
	LandlordID string
	ManagerID  string
	Status     types.LeaseStatus
}

// ListLeases returns leases matching f, newest first.
func (c conn) ListLeases(ctx context.Context, f LeaseFilter) ([]*Lease, error) {
	var preds []*entsql.Predicate
	if f.TenantID != "" {
		preds = append(preds, entsql.EQ("tenant_id", f.TenantID))
	}
	if f.LandlordID != "" {
		preds = append(preds, entsql.EQ("landlord_id", f.LandlordID))
	}
	if f.ManagerID != "" {
		preds = append(preds, entsql.EQ("manager_id", f.ManagerID))
	}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	sel := c.sb().Select(leaseColumns...).
		From(c.sb().Table(LeasesTable.Name)).
		OrderBy(entsql.Desc("created_at"))
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	q, args := sel.Query()
	rows, err := c.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "leases")
	}
	defer rows.Close()

	var out []*Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, mapErr(err, "lease")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// EndLease moves an active lease to inactive and frees its unit. It reports
// false when the lease was not active.
func (c conn) EndLease(ctx context.Context, id string, at time.Time) (bool, error) {
	q, args := c.sb().Update(LeasesTable.Name).
		Set("status", string(types.LeaseInactive)).
		SetNull("active_unit").
		Set("ended_at", at.UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(types.LeaseActive)))).
		Query()
	n, err := c.exec(ctx, q, args)
	if err != nil {
		return false, mapErr(err, "lease")
	}
	return n == 1, nil
}
