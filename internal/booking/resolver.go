// Package booking decides whether a candidate appointment fits a provider's
// schedule and orchestrates the writes that follow.
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

// ProviderSource is the read side of availability.Repository.
type ProviderSource interface {
	GetProvider(ctx context.Context, tenantID, providerID uuid.UUID) (*availability.Provider, error)
	GetBlocks(ctx context.Context, tenantID, providerID uuid.UUID, day *int) ([]availability.Block, error)
}

// BlockingFinder is satisfied by appointment.Store and appointment.Tx.
type BlockingFinder interface {
	FindBlocking(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error)
}

type Candidate struct {
	TenantID   uuid.UUID
	ProviderID uuid.UUID
	Date       time.Time
	Window     timewindow.Window

	// Exclude is the appointment being moved, if any.
	Exclude uuid.UUID
}

// Receipt is the resolver's verdict that a candidate fit at the time it was
// checked. It is not a reservation.
type Receipt struct {
	Candidate
	Provider availability.Provider
	Block    timewindow.Window
}

type Resolver struct {
	providers ProviderSource
}

func NewResolver(providers ProviderSource) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve runs the checks in a fixed order so the same stored state always
// yields the same verdict: provider, bookability, availability, containment,
// then existing bookings.
func (r *Resolver) Resolve(ctx context.Context, bookings BlockingFinder, c Candidate) (*Receipt, error) {
	const op = "booking.Resolve"

	provider, err := r.loadProvider(ctx, op, c.TenantID, c.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.AllowBookings {
		return nil, apperr.New(apperr.KindProviderNotBookable, op, "provider does not accept bookings").
			Scoped(c.TenantID, c.ProviderID)
	}

	blocks, err := r.activeBlocks(ctx, op, c.TenantID, c.ProviderID, timewindow.Weekday(c.Date))
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, apperr.New(apperr.KindNoAvailability, op, "no availability on %s", c.Date.Weekday()).
			Scoped(c.TenantID, c.ProviderID)
	}

	var container *timewindow.Window
	for i := range blocks {
		if w := blocks[i].Window(); w.Contains(c.Window) {
			container = &w
			break
		}
	}
	if container == nil {
		return nil, apperr.New(apperr.KindOutsideAvailability, op, "%s is not inside a single availability block", c.Window).
			Scoped(c.TenantID, c.ProviderID)
	}

	busy, err := bookings.FindBlocking(ctx, c.TenantID, c.ProviderID, c.Date, c.Exclude)
	if err != nil {
		return nil, apperr.FromStore("appointment.FindBlocking", c.TenantID, c.ProviderID, err)
	}
	var conflicts []timewindow.Window
	for _, b := range busy {
		if b.Overlaps(c.Window) {
			conflicts = append(conflicts, b)
		}
	}
	if len(conflicts) > 0 {
		e := apperr.New(apperr.KindSlotConflict, op, "%s overlaps %d existing booking(s)", c.Window, len(conflicts)).
			Scoped(c.TenantID, c.ProviderID)
		e.Conflicts = conflicts
		return nil, e
	}

	return &Receipt{Candidate: c, Provider: *provider, Block: *container}, nil
}

func (r *Resolver) loadProvider(ctx context.Context, op string, tenantID, providerID uuid.UUID) (*availability.Provider, error) {
	p, err := r.providers.GetProvider(ctx, tenantID, providerID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.New(apperr.KindNotFound, op, "provider %s not found", providerID).Scoped(tenantID, providerID)
		}
		return nil, apperr.FromStore("availability.GetProvider", tenantID, providerID, err)
	}
	return p, nil
}

func (r *Resolver) activeBlocks(ctx context.Context, op string, tenantID, providerID uuid.UUID, day int) ([]availability.Block, error) {
	blocks, err := r.providers.GetBlocks(ctx, tenantID, providerID, &day)
	if err != nil {
		return nil, apperr.FromStore("availability.GetBlocks", tenantID, providerID, err)
	}
	var active []availability.Block
	for _, b := range blocks {
		if b.IsActive {
			active = append(active, b)
		}
	}
	return active, nil
}
