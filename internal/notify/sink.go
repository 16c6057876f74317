// Package notify implements the notification sink the billing services
// write to. Notifications are persisted, deduplicated on the overdue key and
// pushed to any live websocket subscribers of the recipient.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

// Notification is a message for one user, optionally correlated with a
// lease and billing period.
type Notification struct {
	UserID  string
	Title   string
	Message string
	Type    types.NotificationType
	LeaseID string
	Period  string
}

// Sink receives fire-and-forget notifications from the services.
type Sink interface {
	// Notify stores n. created is false when an equivalent overdue
	// notification already exists for the same lease and period.
	Notify(ctx context.Context, n Notification) (created bool, err error)
}

// OverdueKey is the dedupe key enforcing one overdue notification per lease
// and period.
func OverdueKey(leaseID, period string) string {
	return fmt.Sprintf("overdue:%s:%s", leaseID, period)
}

// StoreSink persists notifications and publishes new ones to a Hub.
type StoreSink struct {
	store *store.Store
	hub   *Hub
	log   zerolog.Logger
}

// NewStoreSink creates a sink writing to st. hub may be nil.
func NewStoreSink(st *store.Store, hub *Hub, logger zerolog.Logger) *StoreSink {
	return &StoreSink{
		store: st,
		hub:   hub,
		log:   logger.With().Str("component", "notify").Logger(),
	}
}

func (s *StoreSink) Notify(ctx context.Context, n Notification) (bool, error) {
	if n.UserID == "" {
		return false, fmt.Errorf("notification %q has no recipient", n.Title)
	}
	if n.Type == "" {
		n.Type = types.NotificationInfo
	}
	rec := &store.Notification{
		ID:      uuid.NewString(),
		UserID:  n.UserID,
		Title:   n.Title,
		Message: n.Message,
		Type:    n.Type,
		LeaseID: n.LeaseID,
		Period:  n.Period,
	}
	if n.Type == types.NotificationOverdue && n.LeaseID != "" && n.Period != "" {
		rec.DedupeKey = OverdueKey(n.LeaseID, n.Period)
	}

	created, err := s.store.InsertNotification(ctx, rec)
	if err != nil {
		return false, err
	}
	if !created {
		s.log.Debug().Str("dedupe_key", rec.DedupeKey).Msg("duplicate notification ignored")
		return false, nil
	}
	if s.hub != nil {
		s.hub.Publish(rec)
	}
	return true, nil
}

// Deliver sends n through sink and logs failures. Delivery is best-effort:
// it never fails the state transition that produced the notification.
func Deliver(ctx context.Context, sink Sink, log zerolog.Logger, n Notification) {
	if sink == nil {
		return
	}
	if _, err := sink.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Str("user_id", n.UserID).Str("type", string(n.Type)).Msg("notification not stored")
	}
}
