package availability

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var ErrProviderNotFound = &apperr.Error{Kind: apperr.KindNotFound, Msg: "provider not found"}

// Repository reads and writes weekly availability per provider. Every call is
// scoped to a tenant; a provider from another tenant is reported as missing.
type Repository interface {
	GetProvider(ctx context.Context, tenantID, providerID uuid.UUID) (*Provider, error)

	// GetBlocks returns the provider's blocks ordered by day then start time.
	// A nil day returns the whole week.
	GetBlocks(ctx context.Context, tenantID, providerID uuid.UUID, day *int) ([]Block, error)

	// ReplaceBlocks validates the full set and swaps it in atomically. On any
	// validation failure nothing is written.
	ReplaceBlocks(ctx context.Context, tenantID, providerID uuid.UUID, blocks []Block) error
}
