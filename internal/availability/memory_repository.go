package availability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is the in-process reference implementation. Each call
// holds the lock for its whole duration, so ReplaceBlocks is atomic to
// readers.
type MemoryRepository struct {
	mu        sync.RWMutex
	providers map[uuid.UUID]Provider
	blocks    map[uuid.UUID][]Block
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		providers: make(map[uuid.UUID]Provider),
		blocks:    make(map[uuid.UUID][]Block),
	}
}

// PutProvider registers or overwrites a provider.
func (r *MemoryRepository) PutProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.providers[p.ID] = p
}

func (r *MemoryRepository) GetProvider(ctx context.Context, tenantID, providerID uuid.UUID) (*Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerID]
	if !ok || p.TenantID != tenantID {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetBlocks(ctx context.Context, tenantID, providerID uuid.UUID, day *int) ([]Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerID]
	if !ok || p.TenantID != tenantID {
		return nil, nil
	}

	var out []Block
	for _, b := range r.blocks[providerID] {
		if day != nil && b.DayOfWeek != *day {
			continue
		}
		out = append(out, b)
	}
	sortBlocks(out)
	return out, nil
}

func (r *MemoryRepository) ReplaceBlocks(ctx context.Context, tenantID, providerID uuid.UUID, blocks []Block) error {
	if err := ValidateBlocks(blocks); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[providerID]
	if !ok || p.TenantID != tenantID {
		return ErrProviderNotFound
	}

	next := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.ProviderID = providerID
		next = append(next, b)
	}
	r.blocks[providerID] = next
	return nil
}
