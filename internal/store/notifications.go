package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"

	"github.com/matthewbaird/rentals/internal/types"
)

// Notification is a stored message for one user.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Type      types.NotificationType `json:"type"`
	LeaseID   string                 `json:"lease_id,omitempty"`
	Period    string                 `json:"period,omitempty"`
	DedupeKey string                 `json:"-"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"created_at"`
}

var notificationColumns = []string{
	"id", "user_id", "title", "message", "type", "lease_id", "period",
	"dedupe_key", "read", "created_at",
}

func scanNotification(row interface{ Scan(...any) error }) (*Notification, error) {
	var (
		n                     Notification
		typ                   string
		lease, period, dedupe sql.NullString
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &lease, &period,
		&dedupe, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = types.NotificationType(typ)
	n.LeaseID, n.Period, n.DedupeKey = lease.String, period.String, dedupe.String
	return &n, nil
}

// InsertNotification stores n. When n carries a dedupe key that already
// exists the insert is a no-op and created is false.
func (c conn) InsertNotification(ctx context.Context, n *Notification) (created bool, err error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	q, args := c.sb().Insert(NotificationsTable.Name).
		Columns(notificationColumns...).
		Values(n.ID, n.UserID, n.Title, n.Message, string(n.Type), optional(n.LeaseID), optional(n.Period),
			optional(n.DedupeKey), n.Read, n.CreatedAt).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		if n.DedupeKey != "" && sqlgraph.IsUniqueConstraintError(err) {
			return false, nil
		}
		return false, mapErr(err, "notification")
	}
	return true, nil
}

// ListNotifications returns the notifications of userID, newest first.
func (c conn) ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q, args := c.sb().Select(notificationColumns...).
		From(c.sb().Table(NotificationsTable.Name)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Query()
	rows, err := c.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "notifications")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, mapErr(err, "notification")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountNotifications counts stored notifications of typ for a lease period.
func (c conn) CountNotifications(ctx context.Context, leaseID string, typ types.NotificationType, period string) (int, error) {
	q, args := c.sb().Select(entsql.Count("*")).
		From(c.sb().Table(NotificationsTable.Name)).
		Where(entsql.And(
			entsql.EQ("lease_id", leaseID),
			entsql.EQ("type", string(typ)),
			entsql.EQ("period", period),
		)).
		Query()
	var n int
	if err := c.q.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, mapErr(err, "notifications")
	}
	return n, nil
}

// MarkNotificationRead flags a notification of userID as read.
func (c conn) MarkNotificationRead(ctx context.Context, userID, id string) error {
	q, args := c.sb().Update(NotificationsTable.Name).
		Set("read", true).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("user_id", userID))).
		Query()
	n, err := c.exec(ctx, q, args)
	if err != nil {
		return mapErr(err, "notification")
	}
	if n == 0 {
		return mapErr(sql.ErrNoRows, "notification")
	}
	return nil
}
