package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

// visibleAppointment loads an appointment the actor is allowed to see.
// Clients only see their own; anything else reads as missing.
func (c *Coordinator) visibleAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	const op = "booking.GetAppointment"

	storeCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	appt, err := c.appts.Get(storeCtx, actor.TenantID, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.New(apperr.KindNotFound, op, "appointment %s not found", id).Scoped(actor.TenantID, uuid.Nil)
		}
		return nil, apperr.FromStore("appointment.Get", actor.TenantID, uuid.Nil, err)
	}
	if actor.Role == appointment.RoleClient && appt.ClientID != actor.ID {
		return nil, apperr.New(apperr.KindNotFound, op, "appointment %s not found", id).Scoped(actor.TenantID, uuid.Nil)
	}
	return appt, nil
}

func (c *Coordinator) GetAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error) {
	return c.visibleAppointment(ctx, actor, id)
}

func (c *Coordinator) History(ctx context.Context, actor appointment.Actor, id uuid.UUID) ([]appointment.HistoryEntry, error) {
	appt, err := c.visibleAppointment(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	entries, err := c.appts.History(storeCtx, actor.TenantID, id)
	if err != nil {
		return nil, apperr.FromStore("appointment.History", actor.TenantID, appt.ProviderID, err)
	}
	return entries, nil
}

// Availability returns the provider's weekly blocks, optionally for one day.
func (c *Coordinator) Availability(ctx context.Context, actor appointment.Actor, providerID uuid.UUID, day *int) ([]availability.Block, error) {
	const op = "booking.Availability"

	if day != nil && (*day < 0 || *day > 6) {
		return nil, apperr.New(apperr.KindInvalidFormat, op, "day %d out of range 0..6", *day)
	}

	storeCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	if _, err := c.resolver.loadProvider(storeCtx, op, actor.TenantID, providerID); err != nil {
		return nil, err
	}
	blocks, err := c.avail.GetBlocks(storeCtx, actor.TenantID, providerID, day)
	if err != nil {
		return nil, apperr.FromStore("availability.GetBlocks", actor.TenantID, providerID, err)
	}
	return blocks, nil
}

type SlotsRequest struct {
	Actor      appointment.Actor
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	Date       time.Time
	Step       int
}

// Slots lists bookable starts for a service on a date, from the actor's
// point of view: past starts are never offered, and clients only see today
// when same-day booking is enabled for the tenant.
func (c *Coordinator) Slots(ctx context.Context, req SlotsRequest) ([]timewindow.Window, error) {
	const op = "booking.Slots"
	tenantID := req.Actor.TenantID

	window, err := c.serviceWindow(ctx, op, tenantID, req.ProviderID, req.ServiceID, 0)
	if err != nil {
		return nil, err
	}

	now := c.now()
	today := timewindow.DateOf(now)
	notBefore := 0
	switch {
	case req.Date.Before(today):
		return []timewindow.Window{}, nil
	case req.Date.Equal(today):
		if req.Actor.Role == appointment.RoleClient && !c.sameDayAllowed(ctx, tenantID) {
			return []timewindow.Window{}, nil
		}
		notBefore = timewindow.MinuteOfDay(now) + 1
	}

	storeCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	return c.resolver.AvailableSlots(storeCtx, c.appts, SlotQuery{
		TenantID:   tenantID,
		ProviderID: req.ProviderID,
		Date:       req.Date,
		Duration:   window.End - window.Start,
		Step:       req.Step,
		NotBefore:  notBefore,
	})
}
