package eventbus

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/event"
)

// LogConsumer logs all domain events for observability.
type LogConsumer struct {
	log zerolog.Logger
}

func NewLogConsumer(logger zerolog.Logger) *LogConsumer {
	return &LogConsumer{log: logger.With().Str("component", "events").Logger()}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	entities := make([]string, len(evt.AffectedEntities))
	for i, ref := range evt.AffectedEntities {
		entities[i] = ref.EntityType + ":" + ref.EntityID
	}
	c.log.Info().
		Str("event_type", evt.EventType).
		Str("category", evt.Category).
		Str("weight", evt.Weight).
		Strs("entities", entities).
		Msg(evt.Summary)
	return nil
}
