package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

func (r *Repository) AppendOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	return appendOutboxEvent(ctx, r.db, event)
}

func appendOutboxEvent(ctx context.Context, q execer, event *domain.OutboxEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5)`

	// payload goes in as text so it lands in both JSONB and TEXT columns
	_, err := q.ExecContext(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		string(event.Payload),
		event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// GetUnprocessedEvents returns up to limit events not yet published, oldest
// first.
func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at, processed_at
	          FROM outbox_events
	          WHERE processed_at IS NULL
	          ORDER BY created_at, id
	          LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			e         domain.OutboxEvent
			payload   []byte
			processed sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt, &processed); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		if processed.Valid {
			e.ProcessedAt = &processed.Time
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id string) error {
	query := `UPDATE outbox_events SET processed_at = $1 WHERE id = $2 AND processed_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return expectAffected(res, fmt.Errorf("outbox event %s %w", id, domain.ErrNotFound))
}
