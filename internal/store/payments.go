package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentals/internal/types"
)

// PaymentAttempt is one mobile-money payment attempt for a lease period.
type PaymentAttempt struct {
	ID                string              `json:"id"`
	LeaseID           string              `json:"lease_id"`
	TenantID          string              `json:"tenant_id"`
	Period            string              `json:"period"`
	AmountCents       int64               `json:"amount_cents"`
	PhoneNumber       string              `json:"phone_number"`
	MerchantRequestID string              `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string              `json:"checkout_request_id,omitempty"`
	Status            types.PaymentStatus `json:"status"`
	Receipt           string              `json:"mpesa_receipt,omitempty"`
	ResultCode        *int                `json:"result_code,omitempty"`
	ResultDesc        string              `json:"result_desc,omitempty"`
	TransactionDate   *time.Time          `json:"transaction_date,omitempty"`
	RawCallback       string              `json:"raw_callback,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

var paymentColumns = []string{
	"id", "lease_id", "tenant_id", "period", "amount_cents", "phone_number",
	"merchant_request_id", "checkout_request_id", "status", "receipt",
	"result_code", "result_desc", "transaction_date", "raw_callback",
	"created_at", "updated_at",
}

func scanPayment(row interface{ Scan(...any) error }) (*PaymentAttempt, error) {
	var (
		p                       PaymentAttempt
		merchant, checkout, raw sql.NullString
		receipt, desc           sql.NullString
		status                  string
		code                    sql.NullInt64
		txDate                  sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.LeaseID, &p.TenantID, &p.Period, &p.AmountCents, &p.PhoneNumber,
		&merchant, &checkout, &status, &receipt,
		&code, &desc, &txDate, &raw,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.MerchantRequestID, p.CheckoutRequestID = merchant.String, checkout.String
	p.Receipt, p.ResultDesc, p.RawCallback = receipt.String, desc.String, raw.String
	p.Status = types.PaymentStatus(status)
	if code.Valid {
		v := int(code.Int64)
		p.ResultCode = &v
	}
	if txDate.Valid {
		t := txDate.Time
		p.TransactionDate = &t
	}
	return &p, nil
}

// CreatePayment inserts a new attempt in the pending state.
func (c conn) CreatePayment(ctx context.Context, p *PaymentAttempt) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	p.Status = types.PaymentPending
	q, args := c.sb().Insert(PaymentAttemptsTable.Name).
		Columns("id", "lease_id", "tenant_id", "period", "amount_cents", "phone_number",
			"status", "created_at", "updated_at").
		Values(p.ID, p.LeaseID, p.TenantID, p.Period, p.AmountCents, p.PhoneNumber,
			string(p.Status), p.CreatedAt, p.UpdatedAt).
		Query()
	_, err := c.exec(ctx, q, args)
	return mapErr(err, "payment attempt")
}

func (c conn) getPaymentWhere(ctx context.Context, p *entsql.Predicate) (*PaymentAttempt, error) {
	q, args := c.sb().Select(paymentColumns...).
		From(c.sb().Table(PaymentAttemptsTable.Name)).
		Where(p).
		Limit(1).
		Query()
	pa, err := scanPayment(c.q.QueryRowContext(ctx, q, args...))
	return pa, mapErr(err, "payment attempt")
}

// GetPayment returns the attempt with the given id.
func (c conn) GetPayment(ctx context.Context, id string) (*PaymentAttempt, error) {
	return c.getPaymentWhere(ctx, entsql.EQ("id", id))
}

// GetPaymentByCheckoutID returns the attempt correlated with a provider
// checkout request id.
func (c conn) GetPaymentByCheckoutID(ctx context.Context, checkoutID string) (*PaymentAttempt, error) {
	return c.getPaymentWhere(ctx, entsql.EQ("checkout_request_id", checkoutID))
}

// PaymentFilter narrows ListPayments. Empty fields are ignored.
type PaymentFilter struct {
	LeaseID       string
	Period        string
	Status        types.PaymentStatus
	CreatedBefore time.Time
}

// ListPayments returns attempts matching f, newest first.
func (c conn) ListPayments(ctx context.Context, f PaymentFilter) ([]*PaymentAttempt, error) {
	var preds []*entsql.Predicate
	if f.LeaseID != "" {
		preds = append(preds, entsql.EQ("lease_id", f.LeaseID))
	}
	if f.Period != "" {
		preds = append(preds, entsql.EQ("period", f.Period))
	}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	sel := c.sb().Select(paymentColumns...).
		From(c.sb().Table(PaymentAttemptsTable.Name)).
		OrderBy(entsql.Desc("created_at"))
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	q, args := sel.Query()
	rows, err := c.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "payment attempts")
	}
	defer rows.Close()

	var out []*PaymentAttempt
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr(err, "payment attempt")
		}
		// Filtered in Go: stored timestamps are not comparable as text across drivers.
		if !f.CreatedBefore.IsZero() && !p.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetCheckoutIDs records the provider correlation ids on a pending attempt.
func (c conn) SetCheckoutIDs(ctx context.Context, id, merchantID, checkoutID string) error {
	q, args := c.sb().Update(PaymentAttemptsTable.Name).
		Set("merchant_request_id", optional(merchantID)).
		Set("checkout_request_id", optional(checkoutID)).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(types.PaymentPending)))).
		Query()
	_, err := c.exec(ctx, q, args)
	return mapErr(err, "payment attempt")
}

// PaymentOutcome is the terminal result written by SettlePayment.
type PaymentOutcome struct {
	Status          types.PaymentStatus
	Receipt         string
	ResultCode      *int
	ResultDesc      string
	TransactionDate *time.Time
	RawCallback     string
}

// SettlePayment moves a pending attempt to a terminal state. The update is
// guarded by status = 'pending', so of several concurrent deliveries exactly
// one observes true; the rest find the row already terminal and change nothing.
func (c conn) SettlePayment(ctx context.Context, id string, o PaymentOutcome) (bool, error) {
	u := c.sb().Update(PaymentAttemptsTable.Name).
		Set("status", string(o.Status)).
		Set("result_desc", optional(o.ResultDesc)).
		Set("updated_at", time.Now().UTC())
	if o.Receipt != "" {
		u.Set("receipt", o.Receipt)
	}
	if o.ResultCode != nil {
		u.Set("result_code", *o.ResultCode)
	}
	if o.TransactionDate != nil {
		u.Set("transaction_date", o.TransactionDate.UTC())
	}
	if o.RawCallback != "" {
		u.Set("raw_callback", o.RawCallback)
	}
	q, args := u.Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(types.PaymentPending)))).Query()
	n, err := c.exec(ctx, q, args)
	if err != nil {
		return false, mapErr(err, "payment attempt")
	}
	return n == 1, nil
}
