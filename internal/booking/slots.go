package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

type SlotQuery struct {
	TenantID   uuid.UUID
	ProviderID uuid.UUID
	Date       time.Time
	Duration   int
	Step       int

	// NotBefore drops starts earlier than this minute. Used for today.
	NotBefore int
}

// AvailableSlots lists every start the resolver would currently accept,
// stepping from the start of each active block. A provider without
// availability that day simply has no slots.
func (r *Resolver) AvailableSlots(ctx context.Context, bookings BlockingFinder, q SlotQuery) ([]timewindow.Window, error) {
	const op = "booking.AvailableSlots"

	if q.Duration <= 0 || q.Step <= 0 {
		return nil, apperr.New(apperr.KindInvalidFormat, op, "duration and step must be positive")
	}

	provider, err := r.loadProvider(ctx, op, q.TenantID, q.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.AllowBookings {
		return nil, apperr.New(apperr.KindProviderNotBookable, op, "provider does not accept bookings").
			Scoped(q.TenantID, q.ProviderID)
	}

	blocks, err := r.activeBlocks(ctx, op, q.TenantID, q.ProviderID, timewindow.Weekday(q.Date))
	if err != nil || len(blocks) == 0 {
		return nil, err
	}

	busy, err := bookings.FindBlocking(ctx, q.TenantID, q.ProviderID, q.Date, uuid.Nil)
	if err != nil {
		return nil, apperr.FromStore("appointment.FindBlocking", q.TenantID, q.ProviderID, err)
	}

	slots := []timewindow.Window{}
	for _, b := range blocks {
		for start := b.StartMinute; start+q.Duration <= b.EndMinute; start += q.Step {
			if start < q.NotBefore {
				continue
			}
			w := timewindow.Window{Start: start, End: start + q.Duration}
			if !overlapsAny(w, busy) {
				slots = append(slots, w)
			}
		}
	}
	return slots, nil
}

func overlapsAny(w timewindow.Window, busy []timewindow.Window) bool {
	for _, b := range busy {
		if b.Overlaps(w) {
			return true
		}
	}
	return false
}
