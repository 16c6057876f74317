// Package payment owns the lifecycle of mobile-money payment attempts:
// PENDING on initiation, then exactly one move to SUCCESS or FAILED driven
// by the gateway's synchronous answer, the provider callback or the stale
// attempt sweep.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/event"
	"github.com/matthewbaird/rentals/internal/gateway"
	"github.com/matthewbaird/rentals/internal/notify"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// DefaultGatewayTimeout bounds the gateway round trip of Initiate.
const DefaultGatewayTimeout = 20 * time.Second

// Service runs the payment state machine.
type Service struct {
	store   *store.Store
	gw      gateway.Pusher
	sink    notify.Sink
	rec     event.Recorder
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	tracer  trace.Tracer
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

// WithGatewayTimeout overrides DefaultGatewayTimeout.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a payment service. Periods and provider timestamps are
// interpreted in loc.
func NewService(st *store.Store, gw gateway.Pusher, sink notify.Sink, loc *time.Location, logger zerolog.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		store:   st,
		gw:      gw,
		sink:    sink,
		loc:     loc,
		timeout: DefaultGatewayTimeout,
		now:     time.Now,
		log:     logger.With().Str("component", "payment").Logger(),
		tracer:  otel.Tracer("github.com/matthewbaird/rentals/internal/payment"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// InitiateRequest is a tenant's request to pay rent by STK push.
type InitiateRequest struct {
	LeaseID     string `json:"lease_id"`
	PhoneNumber string `json:"phone_number"`
	AmountCents int64  `json:"amount_cents"`
}

// Initiate creates a PENDING attempt for the current period and asks the
// gateway to push it to the payer's phone. A gateway failure moves the
// attempt straight to FAILED and is returned as a normal result; the error
// return is reserved for rejected requests and storage failures.
func (s *Service) Initiate(ctx context.Context, payer *store.Account, req InitiateRequest) (*store.PaymentAttempt, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Initiate", trace.WithAttributes(attribute.String("lease.id", req.LeaseID)))
	defer span.End()

	if payer == nil {
		return nil, apperr.Forbidden("authentication required")
	}
	if req.LeaseID == "" {
		return nil, apperr.Validation("lease_id is required")
	}
	lease, err := s.store.GetLease(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if payer.Role != types.RoleTenant || lease.TenantID != payer.ID {
		return nil, apperr.Forbidden("you can only pay for your own lease")
	}
	if lease.Status != types.LeaseActive {
		return nil, apperr.Forbidden("lease is not active")
	}
	if req.AmountCents <= 0 {
		return nil, apperr.Validation("amount_cents must be positive")
	}
	if req.AmountCents%100 != 0 {
		return nil, apperr.Validation("amount must be a whole number of shillings")
	}
	rawPhone := req.PhoneNumber
	if rawPhone == "" {
		rawPhone = payer.PhoneNumber
	}
	phone, err := gateway.NormalizePhone(rawPhone)
	if err != nil {
		return nil, apperr.Validation("phone_number: %v", err)
	}

	period := types.PeriodOf(s.now().In(s.loc)).String()
	attempt := &store.PaymentAttempt{
		ID:          uuid.NewString(),
		LeaseID:     lease.ID,
		TenantID:    payer.ID,
		Period:      period,
		AmountCents: req.AmountCents,
		PhoneNumber: phone,
	}
	if err := s.store.CreatePayment(ctx, attempt); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.id", attempt.ID))
	event.Emit(ctx, s.rec, s.log, event.NewPaymentInitiated(s.payload(attempt, lease)))

	reference := lease.UnitLabel
	if reference == "" {
		reference = lease.ID
	}
	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	res := s.gw.STKPush(gctx, gateway.PushRequest{
		PhoneNumber:      phone,
		AmountCents:      req.AmountCents,
		AccountReference: reference,
		Description:      "Rent " + period,
	})
	cancel()

	// The outcome is recorded even when the caller has gone away.
	wctx := context.WithoutCancel(ctx)
	if !res.OK {
		gwErr := apperr.New(apperr.CodeExternalGateway, "%s", res.Error)
		won, err := s.settle(wctx, attempt, store.PaymentOutcome{
			Status:     types.PaymentFailed,
			ResultDesc: gwErr.Message,
		})
		if err != nil {
			return nil, err
		}
		if won {
			s.log.Warn().Err(gwErr).Str("payment_id", attempt.ID).Msg("stk push failed")
			failed := s.payload(attempt, lease)
			failed.ResultDesc = gwErr.Message
			event.Emit(wctx, s.rec, s.log, event.NewPaymentFailed(failed))
		}
		return s.store.GetPayment(wctx, attempt.ID)
	}

	if err := s.store.SetCheckoutIDs(wctx, attempt.ID, res.MerchantRequestID, res.CheckoutRequestID); err != nil {
		return nil, err
	}
	s.log.Info().Str("payment_id", attempt.ID).Str("checkout_request_id", res.CheckoutRequestID).Msg("stk push sent")
	return s.store.GetPayment(wctx, attempt.ID)
}

// Outcome describes what Reconcile did with a callback.
type Outcome struct {
	Matched   bool                `json:"matched"`
	Applied   bool                `json:"applied"`
	PaymentID string              `json:"payment_id,omitempty"`
	Status    types.PaymentStatus `json:"status,omitempty"`
}

// Reconcile applies a provider callback to the attempt it names. Unknown
// checkout ids, malformed payloads and repeated deliveries are accepted as
// no-ops so the provider never sees an error. Only the delivery that wins
// the conditional PENDING write sends notifications.
func (s *Service) Reconcile(ctx context.Context, raw []byte) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Reconcile")
	defer span.End()

	cb, err := ParseCallback(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring malformed callback")
		return Outcome{}, nil
	}
	if cb.CheckoutRequestID == "" {
		s.log.Warn().Msg("ignoring callback without CheckoutRequestID")
		return Outcome{}, nil
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", cb.CheckoutRequestID))

	attempt, err := s.store.GetPaymentByCheckoutID(ctx, cb.CheckoutRequestID)
	if errors.Is(err, apperr.ErrNotFound) {
		// A callback can beat SetCheckoutIDs when the provider answers before
		// Initiate has stored the ids; the attempt then needs manual matching.
		s.log.Warn().Str("checkout_request_id", cb.CheckoutRequestID).Str("merchant_request_id", cb.MerchantRequestID).
			Msg("callback for unknown checkout id, reconcile manually if a push was just sent")
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Matched: true, PaymentID: attempt.ID, Status: attempt.Status}
	if attempt.Status.Terminal() {
		s.log.Debug().Str("payment_id", attempt.ID).Msg("duplicate callback for settled attempt")
		return out, nil
	}
	if cb.ResultCode == nil {
		s.log.Warn().Str("payment_id", attempt.ID).Msg("callback without ResultCode left pending")
		return out, nil
	}

	outcome := store.PaymentOutcome{
		ResultCode:  cb.ResultCode,
		ResultDesc:  cb.ResultDesc,
		RawCallback: string(raw),
	}
	if cb.Succeeded() {
		outcome.Status = types.PaymentSuccess
		outcome.Receipt = cb.Receipt()
		if ts, ok := cb.TransactionDate(s.loc); ok {
			outcome.TransactionDate = &ts
		}
		if amt, ok := cb.AmountCents(); ok && amt != attempt.AmountCents {
			s.log.Warn().Str("payment_id", attempt.ID).Int64("expected_cents", attempt.AmountCents).Int64("reported_cents", amt).Msg("callback amount differs from attempt")
		}
	} else {
		outcome.Status = types.PaymentFailed
	}

	won, err := s.settle(ctx, attempt, outcome)
	if err != nil {
		return out, err
	}
	settled, err := s.store.GetPayment(ctx, attempt.ID)
	if err != nil {
		return out, err
	}
	out.Status = settled.Status
	if !won {
		return out, nil
	}
	out.Applied = true
	s.log.Info().Str("payment_id", attempt.ID).Str("status", string(settled.Status)).Str("receipt", settled.Receipt).Msg("payment reconciled")
	s.announce(ctx, settled)
	return out, nil
}

// settle moves p to o.Status. The transition map rejects moves out of a
// terminal state up front; the store write stays conditional on PENDING, so
// a concurrent writer that got there first makes this return false.
func (s *Service) settle(ctx context.Context, p *store.PaymentAttempt, o store.PaymentOutcome) (bool, error) {
	if err := types.ValidateTransition(types.ValidPaymentTransitions, string(p.Status), string(o.Status)); err != nil {
		return false, apperr.Wrap(apperr.CodeInvalidState, err, "payment "+p.ID+" cannot be settled")
	}
	return s.store.SettlePayment(ctx, p.ID, o)
}

// announce notifies the parties of a settled attempt and records the event.
func (s *Service) announce(ctx context.Context, p *store.PaymentAttempt) {
	lease, err := s.store.GetLease(ctx, p.LeaseID)
	if err != nil {
		s.log.Warn().Err(err).Str("payment_id", p.ID).Msg("lease lookup for notification")
		return
	}
	amount := types.Money{AmountCents: p.AmountCents, Currency: lease.Currency}
	payload := s.payload(p, lease)

	switch p.Status {
	case types.PaymentSuccess:
		notify.Deliver(ctx, s.sink, s.log, notify.Notification{
			UserID:  p.TenantID,
			Title:   "Payment received",
			Message: fmt.Sprintf("Your payment of %s for %s was received. Receipt %s.", amount, p.Period, p.Receipt),
			Type:    types.NotificationPayment,
			LeaseID: p.LeaseID,
			Period:  p.Period,
		})
		for _, owner := range []string{lease.LandlordID, lease.ManagerID} {
			if owner == "" {
				continue
			}
			notify.Deliver(ctx, s.sink, s.log, notify.Notification{
				UserID:  owner,
				Title:   "Rent payment received",
				Message: fmt.Sprintf("%s received for %s, unit %s. Receipt %s.", amount, p.Period, lease.UnitLabel, p.Receipt),
				Type:    types.NotificationPayment,
				LeaseID: p.LeaseID,
				Period:  p.Period,
			})
		}
		event.Emit(ctx, s.rec, s.log, event.NewPaymentSucceeded(payload))
	case types.PaymentFailed:
		notify.Deliver(ctx, s.sink, s.log, notify.Notification{
			UserID:  p.TenantID,
			Title:   "Payment failed",
			Message: fmt.Sprintf("Your payment of %s for %s did not go through: %s", amount, p.Period, p.ResultDesc),
			Type:    types.NotificationPayment,
			LeaseID: p.LeaseID,
			Period:  p.Period,
		})
		event.Emit(ctx, s.rec, s.log, event.NewPaymentFailed(payload))
	}
}

func (s *Service) payload(p *store.PaymentAttempt, lease *store.Lease) event.PaymentPayload {
	return event.PaymentPayload{
		PaymentID:         p.ID,
		LeaseID:           p.LeaseID,
		TenantID:          p.TenantID,
		Period:            p.Period,
		Amount:            types.Money{AmountCents: p.AmountCents, Currency: lease.Currency},
		CheckoutRequestID: p.CheckoutRequestID,
		Receipt:           p.Receipt,
		ResultDesc:        p.ResultDesc,
	}
}

// Get returns one attempt visible to viewer.
func (s *Service) Get(ctx context.Context, viewer *store.Account, id string) (*store.PaymentAttempt, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkLease(ctx, viewer, p.LeaseID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListForLease returns the attempts of a lease, newest first.
func (s *Service) ListForLease(ctx context.Context, viewer *store.Account, leaseID string) ([]*store.PaymentAttempt, error) {
	if err := s.checkLease(ctx, viewer, leaseID); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, store.PaymentFilter{LeaseID: leaseID})
}

func (s *Service) checkLease(ctx context.Context, viewer *store.Account, leaseID string) error {
	lease, err := s.store.GetLease(ctx, leaseID)
	if err != nil {
		return err
	}
	if !lease.VisibleTo(viewer) {
		return apperr.Forbidden("you cannot view payments of this lease")
	}
	return nil
}

// ExpireStale fails attempts that have been PENDING longer than olderThan.
// The provider never called back for them, so without this they would stay
// pending forever. It returns the number of attempts it settled.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.ListPayments(ctx, store.PaymentFilter{
		Status:        types.PaymentPending,
		CreatedBefore: s.now().Add(-olderThan),
	})
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range stale {
		won, err := s.settle(ctx, p, store.PaymentOutcome{
			Status:     types.PaymentFailed,
			ResultDesc: "no callback received",
		})
		if err != nil {
			return settled, err
		}
		if !won {
			continue
		}
		settled++
		if updated, err := s.store.GetPayment(ctx, p.ID); err == nil {
			s.announce(ctx, updated)
		}
	}
	if settled > 0 {
		s.log.Info().Int("count", settled).Msg("stale payment attempts failed")
	}
	return settled, nil
}
