package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentals/internal/activity"
	"github.com/matthewbaird/rentals/internal/types"
)

var _ activity.Store = (*ActivityStore)(nil)

// ActivityStore implements activity.Store on the activity_entries table.
type ActivityStore struct {
	s *Store
}

// Activity returns the activity store backed by s.
func (s *Store) Activity() *ActivityStore {
	return &ActivityStore{s: s}
}

var activityColumns = []string{
	"indexed_entity_type", "indexed_entity_id", "occurred_at", "event_id",
	"event_type", "entity_role", "source_refs", "summary", "category",
	"weight", "polarity", "payload",
}

// WriteEntries inserts entries in one statement. Re-writing an entry that
// already exists is ignored.
func (a *ActivityStore) WriteEntries(ctx context.Context, entries []types.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ins := a.s.sb().Insert(ActivityEntriesTable.Name).Columns(activityColumns...)
	for _, e := range entries {
		refs, err := json.Marshal(e.SourceRefs)
		if err != nil {
			return fmt.Errorf("encoding source refs: %w", err)
		}
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		ins.Values(e.IndexedEntityType, e.IndexedEntityID, e.OccurredAt.UTC(), e.EventID,
			e.EventType, e.EntityRole, string(refs), e.Summary, e.Category,
			e.Weight, e.Polarity, payload)
	}
	q, args := ins.OnConflict(entsql.DoNothing()).Query()
	if _, err := a.s.exec(ctx, q, args); err != nil {
		return mapErr(err, "activity entries")
	}
	return nil
}

// QueryByEntity returns entries indexed under one entity, newest first.
// Time, weight and cursor filters are applied in Go.
func (a *ActivityStore) QueryByEntity(ctx context.Context, entityType, entityID string, opts activity.QueryOptions) ([]types.ActivityEntry, string, int, error) {
	opts = opts.Normalized()
	preds := []*entsql.Predicate{
		entsql.EQ("indexed_entity_type", entityType),
		entsql.EQ("indexed_entity_id", entityID),
	}
	if len(opts.Categories) > 0 {
		cats := make([]any, len(opts.Categories))
		for i, c := range opts.Categories {
			cats[i] = c
		}
		preds = append(preds, entsql.In("category", cats...))
	}
	q, args := a.s.sb().Select(activityColumns...).
		From(a.s.sb().Table(ActivityEntriesTable.Name)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("occurred_at")).
		Query()
	rows, err := a.s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", 0, mapErr(err, "activity entries")
	}
	defer rows.Close()

	var matched []types.ActivityEntry
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, "", 0, err
		}
		if activity.Matches(e, entityType, entityID, opts) {
			matched = append(matched, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, mapErr(err, "activity entries")
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})
	total := len(matched)
	var next string
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
		next = matched[len(matched)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	return matched, next, total, nil
}

func scanActivity(row interface{ Scan(...any) error }) (types.ActivityEntry, error) {
	var (
		e       types.ActivityEntry
		refs    string
		payload sql.NullString
	)
	if err := row.Scan(&e.IndexedEntityType, &e.IndexedEntityID, &e.OccurredAt, &e.EventID,
		&e.EventType, &e.EntityRole, &refs, &e.Summary, &e.Category,
		&e.Weight, &e.Polarity, &payload); err != nil {
		return e, mapErr(err, "activity entry")
	}
	if err := json.Unmarshal([]byte(refs), &e.SourceRefs); err != nil {
		return e, fmt.Errorf("decoding source refs: %w", err)
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	return e, nil
}
