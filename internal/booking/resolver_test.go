package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

type finderFunc func(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error)

func (f finderFunc) FindBlocking(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error) {
	return f(ctx, tenantID, providerID, date, exclude)
}

func staticBusy(windows ...timewindow.Window) BlockingFinder {
	return finderFunc(func(context.Context, uuid.UUID, uuid.UUID, time.Time, uuid.UUID) ([]timewindow.Window, error) {
		return windows, nil
	})
}

func newResolverFixture(t *testing.T, allow bool, blocks ...availability.Block) (*Resolver, uuid.UUID, uuid.UUID) {
	t.Helper()
	repo := availability.NewMemoryRepository()
	tenant, provider := uuid.New(), uuid.New()
	repo.PutProvider(availability.Provider{ID: provider, TenantID: tenant, Kind: availability.KindMember, AllowBookings: allow})
	require.NoError(t, repo.ReplaceBlocks(context.Background(), tenant, provider, blocks))
	return NewResolver(repo), tenant, provider
}

func TestResolveOrder(t *testing.T) {
	mondayMorning := availability.Block{DayOfWeek: 1, StartMinute: 540, EndMinute: 720, IsActive: true}
	inactiveTuesday := availability.Block{DayOfWeek: 2, StartMinute: 540, EndMinute: 720, IsActive: false}

	tests := []struct {
		name   string
		allow  bool
		date   time.Time
		window timewindow.Window
		busy   []timewindow.Window
		kind   apperr.Kind
	}{
		{"fits", true, monday, timewindow.Window{Start: 540, End: 570}, nil, ""},
		{"fits whole block", true, monday, timewindow.Window{Start: 540, End: 720}, nil, ""},
		{"not bookable wins over everything", false, tuesday, timewindow.Window{Start: 0, End: 30}, nil, apperr.KindProviderNotBookable},
		{"inactive block is no availability", true, tuesday, timewindow.Window{Start: 540, End: 570}, nil, apperr.KindNoAvailability},
		{"straddles block end", true, monday, timewindow.Window{Start: 705, End: 735}, nil, apperr.KindOutsideAvailability},
		{"overlap", true, monday, timewindow.Window{Start: 555, End: 585}, []timewindow.Window{{Start: 540, End: 570}}, apperr.KindSlotConflict},
		{"touching", true, monday, timewindow.Window{Start: 570, End: 600}, []timewindow.Window{{Start: 540, End: 570}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, tenant, provider := newResolverFixture(t, tt.allow, mondayMorning, inactiveTuesday)
			receipt, err := r.Resolve(context.Background(), staticBusy(tt.busy...), Candidate{
				TenantID: tenant, ProviderID: provider, Date: tt.date, Window: tt.window,
			})
			if tt.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, mondayMorning.Window(), receipt.Block)
				return
			}
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestResolveNotBookableSkipsAppointmentStore(t *testing.T) {
	r, tenant, provider := newResolverFixture(t, false,
		availability.Block{DayOfWeek: 1, StartMinute: 540, EndMinute: 720, IsActive: true})

	touched := false
	_, err := r.Resolve(context.Background(), finderFunc(func(context.Context, uuid.UUID, uuid.UUID, time.Time, uuid.UUID) ([]timewindow.Window, error) {
		touched = true
		return nil, nil
	}), Candidate{TenantID: tenant, ProviderID: provider, Date: monday, Window: timewindow.Window{Start: 540, End: 570}})

	assert.ErrorIs(t, err, apperr.ErrProviderNotBookable)
	assert.False(t, touched)
}

func TestResolveStoreFailureIsUnavailable(t *testing.T) {
	r, tenant, provider := newResolverFixture(t, true,
		availability.Block{DayOfWeek: 1, StartMinute: 540, EndMinute: 720, IsActive: true})

	_, err := r.Resolve(context.Background(), finderFunc(func(context.Context, uuid.UUID, uuid.UUID, time.Time, uuid.UUID) ([]timewindow.Window, error) {
		return nil, context.DeadlineExceeded
	}), Candidate{TenantID: tenant, ProviderID: provider, Date: monday, Window: timewindow.Window{Start: 540, End: 570}})

	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, provider, e.ProviderID)
}

func TestResolveCrossTenantIsNotFound(t *testing.T) {
	r, _, provider := newResolverFixture(t, true,
		availability.Block{DayOfWeek: 1, StartMinute: 540, EndMinute: 720, IsActive: true})

	_, err := r.Resolve(context.Background(), staticBusy(), Candidate{
		TenantID: uuid.New(), ProviderID: provider, Date: monday, Window: timewindow.Window{Start: 540, End: 570},
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// Every slot the finder offers must be accepted by the resolver, and every
// start it skips must be rejected.
func TestAvailableSlotsAgreeWithResolve(t *testing.T) {
	f := gofakeit.New(11)
	r, tenant, provider := newResolverFixture(t, true,
		availability.Block{DayOfWeek: 1, StartMinute: 480, EndMinute: 720, IsActive: true},
		availability.Block{DayOfWeek: 1, StartMinute: 780, EndMinute: 1020, IsActive: true})

	for i := 0; i < 50; i++ {
		var busy []timewindow.Window
		for j := f.Number(0, 5); j > 0; j-- {
			start := f.Number(480, 1000)
			busy = append(busy, timewindow.Window{Start: start, End: start + f.Number(10, 60)})
		}
		duration := f.Number(1, 4) * 15
		finder := staticBusy(busy...)

		slots, err := r.AvailableSlots(context.Background(), finder, SlotQuery{
			TenantID: tenant, ProviderID: provider, Date: monday, Duration: duration, Step: 15,
		})
		require.NoError(t, err)

		offered := make(map[int]bool, len(slots))
		for _, s := range slots {
			offered[s.Start] = true
		}
		for start := 0; start+duration <= timewindow.MinutesPerDay; start += 15 {
			_, err := r.Resolve(context.Background(), finder, Candidate{
				TenantID: tenant, ProviderID: provider, Date: monday,
				Window: timewindow.Window{Start: start, End: start + duration},
			})
			require.Equal(t, offered[start], err == nil, "start=%d duration=%d busy=%v err=%v", start, duration, busy, err)
		}
	}
}
