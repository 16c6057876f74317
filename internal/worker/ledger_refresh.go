package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/event"
	"github.com/matthewbaird/rentals/internal/ledger"
	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// StatusEvaluator computes the rent standing of a lease period, emitting the
// overdue notice when it applies. ledger.Service satisfies it.
type StatusEvaluator interface {
	Status(ctx context.Context, viewer *store.Account, leaseID string, period types.Period) (ledger.RentStatus, error)
}

// LedgerRefresher re-evaluates a lease's standing when a payment event or a
// new lease lands on the bus, so an overdue notice goes out right away
// rather than at the next sweep.
type LedgerRefresher struct {
	ledger StatusEvaluator
	log    zerolog.Logger
}

// NewLedgerRefresher creates a refresher backed by l.
func NewLedgerRefresher(l StatusEvaluator, logger zerolog.Logger) *LedgerRefresher {
	return &LedgerRefresher{
		ledger: l,
		log:    logger.With().Str("component", "ledger_refresh").Logger(),
	}
}

// HandleEvent routes the event by type. Events it does not care about are
// ignored.
func (w *LedgerRefresher) HandleEvent(ctx context.Context, evt event.DomainEvent) error {
	switch evt.EventType {
	case "payment_failed", "payment_succeeded":
		var p event.PaymentPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", evt.EventType, err)
		}
		period, err := types.ParsePeriod(p.Period)
		if err != nil {
			return err
		}
		return w.refresh(ctx, p.LeaseID, period)
	case "lease_created":
		var p event.LeaseCreatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", evt.EventType, err)
		}
		return w.refresh(ctx, p.LeaseID, types.Period{})
	}
	return nil
}

func (w *LedgerRefresher) refresh(ctx context.Context, leaseID string, period types.Period) error {
	st, err := w.ledger.Status(ctx, nil, leaseID, period)
	if err != nil {
		return fmt.Errorf("refreshing lease %s: %w", leaseID, err)
	}
	w.log.Debug().Str("lease_id", leaseID).Str("period", st.Period.String()).Str("status", string(st.Status)).Msg("ledger refreshed")
	return nil
}
