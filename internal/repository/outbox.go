package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced    = "order.placed"
	EventOrderCancelled = "order.cancelled"
)

type OutboxEvent struct {
	ID          int64
	EventID     uuid.UUID
	AggregateId string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

func (s *txStore) InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO outbox_events (event_id, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := s.tx.ExecContext(ctx, query,
		event.EventID,
		event.AggregateId,
		event.EventType,
		string(event.Payload),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, event_id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateId, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// DeleteProcessedEvents prunes published events older than before.
func (r *Repository) DeleteProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE processed_at IS NOT NULL AND processed_at < $1`,
		before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}
	return res.RowsAffected()
}
