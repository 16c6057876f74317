// Package activity provides the activity store interface and implementations
// for the per-entity audit stream derived from domain events.
package activity

import "time"

// QueryOptions controls filtering and pagination for entity activity queries.
type QueryOptions struct {
	Since      *time.Time // default: 6 months ago
	Until      *time.Time // default: now
	Categories []string   // filter to specific categories ("payment", "invite", ...)
	MinWeight  string     // minimum weight threshold (default: "info")
	Limit      int        // max results (default: 100, max: 500)
	Cursor     string     // cursor for pagination
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	sixMonthsAgo := time.Now().AddDate(0, -6, 0)
	now := time.Now()
	return QueryOptions{
		Since:     &sixMonthsAgo,
		Until:     &now,
		MinWeight: "info",
		Limit:     100,
	}
}

// weightOrder ranks weights from most to least severe.
var weightOrder = map[string]int{
	"critical": 0,
	"major":    1,
	"minor":    2,
	"info":     3,
}

// AtLeastWeight reports whether weight is at least as severe as min.
// Unknown weights rank below "info".
func AtLeastWeight(weight, min string) bool {
	w, ok := weightOrder[weight]
	if !ok {
		w = len(weightOrder)
	}
	m, ok := weightOrder[min]
	if !ok {
		return true
	}
	return w <= m
}

// Normalized returns o with the limit bounds shared by all Store
// implementations applied.
func (o QueryOptions) Normalized() QueryOptions {
	if o.Limit <= 0 || o.Limit > 500 {
		o.Limit = 100
	}
	return o
}
