package activity

import (
	"context"
	"testing"
	"time"

	"github.com/matthewbaird/rentals/internal/types"
)

func testEntry(entityType, entityID, category, weight, polarity, summary string, daysAgo int) types.ActivityEntry {
	return types.ActivityEntry{
		EventID:           "test-" + summary,
		EventType:         "TestEvent",
		OccurredAt:        time.Now().AddDate(0, 0, -daysAgo),
		IndexedEntityType: entityType,
		IndexedEntityID:   entityID,
		EntityRole:        "subject",
		Summary:           summary,
		Category:          category,
		Weight:            weight,
		Polarity:          polarity,
	}
}

func TestMemoryStore_WriteAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entries := []types.ActivityEntry{
		testEntry("lease", "lease-1", "payment", "info", "positive", "Payment settled", 10),
		testEntry("lease", "lease-1", "payment", "major", "negative", "Rent overdue", 5),
		testEntry("lease", "lease-2", "payment", "info", "positive", "Payment settled", 10),
	}

	if err := store.WriteEntries(ctx, entries); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}

	results, _, total, err := store.QueryByEntity(ctx, "lease", "lease-1", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
	if results[0].Summary != "Rent overdue" {
		t.Errorf("first result = %q, want newest entry first", results[0].Summary)
	}
}

func TestMemoryStore_QueryByEntity_FilterCategory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entries := []types.ActivityEntry{
		testEntry("account", "alice", "payment", "info", "positive", "Payment", 10),
		testEntry("account", "alice", "invite", "minor", "positive", "Invite accepted", 5),
	}
	store.WriteEntries(ctx, entries)

	opts := DefaultQueryOptions()
	opts.Categories = []string{"invite"}
	results, _, total, err := store.QueryByEntity(ctx, "account", "alice", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(results) != 1 || results[0].Category != "invite" {
		t.Errorf("expected only the invite entry")
	}
}

func TestMemoryStore_QueryByEntity_TimeWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entries := []types.ActivityEntry{
		testEntry("lease", "lease-1", "payment", "info", "positive", "Recent", 5),
		testEntry("lease", "lease-1", "payment", "info", "positive", "Old", 200),
	}
	store.WriteEntries(ctx, entries)

	since := time.Now().AddDate(0, 0, -30)
	opts := DefaultQueryOptions()
	opts.Since = &since
	results, _, total, err := store.QueryByEntity(ctx, "lease", "lease-1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(results) != 1 || results[0].Summary != "Recent" {
		t.Errorf("expected only 'Recent' entry")
	}
}

func TestMemoryStore_QueryByEntity_MinWeight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entries := []types.ActivityEntry{
		testEntry("lease", "lease-1", "payment", "info", "positive", "Info level", 5),
		testEntry("lease", "lease-1", "payment", "major", "negative", "Major level", 5),
	}
	store.WriteEntries(ctx, entries)

	opts := DefaultQueryOptions()
	opts.MinWeight = "minor"
	results, _, total, err := store.QueryByEntity(ctx, "lease", "lease-1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(results) != 1 || results[0].Weight != "major" {
		t.Errorf("expected only 'major' entry")
	}
}

func TestMemoryStore_QueryByEntity_Cursor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entries := []types.ActivityEntry{
		testEntry("lease", "lease-1", "payment", "info", "positive", "one", 1),
		testEntry("lease", "lease-1", "payment", "info", "positive", "two", 2),
		testEntry("lease", "lease-1", "payment", "info", "positive", "three", 3),
	}
	store.WriteEntries(ctx, entries)

	opts := DefaultQueryOptions()
	opts.Limit = 2
	page1, cursor, total, err := store.QueryByEntity(ctx, "lease", "lease-1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 3 || len(page1) != 2 || cursor == "" {
		t.Fatalf("page1 = %d entries, total %d, cursor %q", len(page1), total, cursor)
	}

	opts.Cursor = cursor
	page2, next, _, err := store.QueryByEntity(ctx, "lease", "lease-1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if len(page2) != 1 || page2[0].Summary != "three" {
		t.Errorf("page2 = %+v, want only 'three'", page2)
	}
	if next != "" {
		t.Errorf("next cursor = %q, want empty", next)
	}
}

func TestMemoryStore_EmptyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	results, _, total, err := store.QueryByEntity(ctx, "lease", "nobody", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 0 || len(results) != 0 {
		t.Errorf("expected empty results from empty store")
	}
}

func TestAtLeastWeight(t *testing.T) {
	if !AtLeastWeight("critical", "major") {
		t.Error("critical should satisfy major")
	}
	if AtLeastWeight("info", "minor") {
		t.Error("info should not satisfy minor")
	}
	if !AtLeastWeight("info", "") {
		t.Error("empty minimum should accept everything")
	}
}
