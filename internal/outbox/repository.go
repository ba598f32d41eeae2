// Package outbox stores domain events in the same transaction as the state
// change that produced them and relays them to Kafka afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type Event struct {
	TenantID    uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
}

// NewEvent marshals payload as JSON.
func NewEvent(tenantID, aggregateID uuid.UUID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{TenantID: tenantID, AggregateID: aggregateID, EventType: eventType, Payload: data}, nil
}

type Record struct {
	ID          int64
	TenantID    uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert must be called with the transaction that carries the state change.
func (r *Repository) Insert(ctx context.Context, q db.Querier, evt Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_events (tenant_id, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, evt.TenantID, evt.AggregateID, evt.EventType, evt.Payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) FetchUnpublished(ctx context.Context, q db.Querier, limit int) ([]Record, error) {
	rows, err := q.Query(ctx, `
		SELECT id, tenant_id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.TenantID, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, q db.Querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
