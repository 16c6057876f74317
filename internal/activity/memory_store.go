package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matthewbaird/rentals/internal/types"
)

// MemoryStore implements Store using in-memory slices.
// It backs tests that need no database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []types.ActivityEntry
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) WriteEntries(_ context.Context, entries []types.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryStore) QueryByEntity(_ context.Context, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts = opts.Normalized()
	var matched []types.ActivityEntry
	for _, e := range s.entries {
		if !Matches(e, entityType, entityID, opts) {
			continue
		}
		matched = append(matched, e)
	}

	// Sort by occurred_at DESC.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	totalCount := len(matched)
	var nextCursor string
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
		nextCursor = matched[len(matched)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	return matched, nextCursor, totalCount, nil
}

// Matches applies every QueryOptions filter to e.
func Matches(e types.ActivityEntry, entityType, entityID string, opts QueryOptions) bool {
	if e.IndexedEntityType != entityType || e.IndexedEntityID != entityID {
		return false
	}
	if opts.Since != nil && e.OccurredAt.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && e.OccurredAt.After(*opts.Until) {
		return false
	}
	if len(opts.Categories) > 0 && !contains(opts.Categories, e.Category) {
		return false
	}
	if opts.MinWeight != "" && !AtLeastWeight(e.Weight, opts.MinWeight) {
		return false
	}
	if opts.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, opts.Cursor)
		if err == nil && !e.OccurredAt.Before(cursorTime) {
			return false
		}
	}
	return true
}

func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
