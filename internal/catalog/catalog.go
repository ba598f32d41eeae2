// Package catalog answers the two read-only questions booking asks of the
// rest of the platform: how long a service takes, and whether a tenant's plan
// includes a feature.
package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

const FeatureAdvancedScheduling = "advanced_scheduling"

var ErrServiceNotFound = &apperr.Error{Kind: apperr.KindNotFound, Msg: "service not found"}

type Service struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Name            string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}

type PgCatalog struct {
	db db.Querier
}

func NewPgCatalog(q db.Querier) *PgCatalog {
	return &PgCatalog{db: q}
}

func (c *PgCatalog) GetService(ctx context.Context, tenantID, serviceID uuid.UUID) (*Service, error) {
	var s Service
	err := c.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, duration_minutes, price_cents, active
		FROM services
		WHERE id = $1 AND tenant_id = $2
	`, serviceID, tenantID).Scan(&s.ID, &s.TenantID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

// MemoryCatalog backs tests and the in-process engine.
type MemoryCatalog struct {
	mu       sync.RWMutex
	services map[uuid.UUID]Service
}

func NewMemoryCatalog(services ...Service) *MemoryCatalog {
	c := &MemoryCatalog{services: make(map[uuid.UUID]Service)}
	for _, s := range services {
		c.services[s.ID] = s
	}
	return c
}

func (c *MemoryCatalog) PutService(s Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[s.ID] = s
}

func (c *MemoryCatalog) GetService(ctx context.Context, tenantID, serviceID uuid.UUID) (*Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.services[serviceID]
	if !ok || s.TenantID != tenantID {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

// CheckReferences lets MemoryCatalog stand in for the service foreign key of
// the in-memory appointment store.
func (c *MemoryCatalog) CheckReferences(ctx context.Context, appt appointment.Appointment) error {
	_, err := c.GetService(ctx, appt.TenantID, appt.ServiceID)
	return err
}
