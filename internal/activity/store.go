package activity

import (
	"context"

	"github.com/matthewbaird/rentals/internal/types"
)

// Store is the interface for reading and writing activity entries.
// The SQL implementation lives in the store package; MemoryStore serves tests.
type Store interface {
	// WriteEntries writes one or more activity entries (one event → many entries).
	WriteEntries(ctx context.Context, entries []types.ActivityEntry) error

	// QueryByEntity returns activity entries for a specific entity.
	QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) (entries []types.ActivityEntry, nextCursor string, totalCount int, err error)
}
