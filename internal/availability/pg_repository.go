package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgRepository struct {
	db db.DB
}

func NewPgRepository(conn db.DB) *PgRepository {
	return &PgRepository{db: conn}
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.Kind,
		&p.Name,
		&p.AllowBookings,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetProvider(ctx context.Context, tenantID, providerID uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, kind, name, allow_bookings, created_at, updated_at
		FROM providers
		WHERE id = $1 AND tenant_id = $2
	`, providerID, tenantID)
	return scanProvider(row)
}

func (r *PgRepository) GetBlocks(ctx context.Context, tenantID, providerID uuid.UUID, day *int) ([]Block, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, provider_id, day_of_week, start_minute, end_minute, is_active
		FROM availability_blocks
		WHERE tenant_id = $1
		  AND provider_id = $2
		  AND ($3::smallint IS NULL OR day_of_week = $3::smallint)
		ORDER BY day_of_week, start_minute
	`, tenantID, providerID, day)
	if err != nil {
		return nil, fmt.Errorf("query availability blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ID, &b.ProviderID, &b.DayOfWeek, &b.StartMinute, &b.EndMinute, &b.IsActive); err != nil {
			return nil, fmt.Errorf("scan availability block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// ReplaceBlocks deletes and reinserts inside one transaction. The provider
// row is locked first so concurrent replacements for the same provider queue
// up instead of interleaving.
func (r *PgRepository) ReplaceBlocks(ctx context.Context, tenantID, providerID uuid.UUID, blocks []Block) error {
	if err := ValidateBlocks(blocks); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace blocks: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM providers
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, providerID, tenantID).Scan(&locked)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrProviderNotFound
		}
		return fmt.Errorf("lock provider: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_blocks
		WHERE provider_id = $1 AND tenant_id = $2
	`, providerID, tenantID); err != nil {
		return fmt.Errorf("delete availability blocks: %w", err)
	}

	for _, b := range blocks {
		id := b.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO availability_blocks (id, tenant_id, provider_id, day_of_week, start_minute, end_minute, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		`, id, tenantID, providerID, b.DayOfWeek, b.StartMinute, b.EndMinute, b.IsActive)
		if err != nil {
			if db.IsExclusionViolation(err) {
				return apperr.Wrap(apperr.KindOverlappingAvailability, "availability.ReplaceBlocks", err).
					Scoped(tenantID, providerID)
			}
			return fmt.Errorf("insert availability block: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace blocks: %w", err)
	}
	return nil
}
