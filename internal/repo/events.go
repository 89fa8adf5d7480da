package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-offers/internal/events"
)

// EventStore appends domain events. It implements events.EventStore.
type EventStore struct {
	DB DB
}

// InsertDomainEvent stores ev.
func (s EventStore) InsertDomainEvent(ctx context.Context, ev events.Event) error {
	if s.DB == nil {
		return ErrStoreUnavailable
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	return err
}

// EventsFor lists the events of an aggregate in the order they occurred.
func (s EventStore) EventsFor(ctx context.Context, aggregateID uuid.UUID, limit int) ([]events.Event, error) {
	if s.DB == nil {
		return nil, ErrStoreUnavailable
	}
	limit = clampPositive(limit, 1, 500)
	rows, err := s.DB.Query(ctx, `SELECT id, topic, aggregate_id, payload, occurred_at FROM domain_events
WHERE aggregate_id = $1 ORDER BY occurred_at, id LIMIT $2`, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]events.Event, 0)
	for rows.Next() {
		var ev events.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}
