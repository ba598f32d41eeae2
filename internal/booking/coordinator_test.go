package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/catalog"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

var (
	// Thursday 2026-10-15, 10:00 tenant time.
	now      = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	today    = timewindow.DateOf(now)
	monday   = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	tuesday  = monday.AddDate(0, 0, 1)
	thursday = today
)

type fixture struct {
	avail    *availability.MemoryRepository
	appts    *appointment.MemoryStore
	services *catalog.MemoryCatalog
	coord    *Coordinator

	tenant   uuid.UUID
	provider uuid.UUID
	service  uuid.UUID

	admin  appointment.Actor
	doctor appointment.Actor
	client appointment.Actor
}

func newFixture(t *testing.T, tweak ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		avail:    availability.NewMemoryRepository(),
		tenant:   uuid.New(),
		provider: uuid.New(),
		service:  uuid.New(),
	}
	f.services = catalog.NewMemoryCatalog(catalog.Service{
		ID: f.service, TenantID: f.tenant, Name: "Consultation", DurationMinutes: 30, PriceCents: 5000, Active: true,
	})
	f.appts = appointment.NewMemoryStore(f.services)
	f.admin = appointment.Actor{ID: uuid.New(), Role: appointment.RoleTenantAdmin, TenantID: f.tenant}
	f.doctor = appointment.Actor{ID: f.provider, Role: appointment.RoleProvider, TenantID: f.tenant}
	f.client = appointment.Actor{ID: uuid.New(), Role: appointment.RoleClient, TenantID: f.tenant}

	f.avail.PutProvider(availability.Provider{
		ID: f.provider, TenantID: f.tenant, Kind: availability.KindDoctor, Name: "Dr. Osei", AllowBookings: true,
	})
	require.NoError(t, f.avail.ReplaceBlocks(context.Background(), f.tenant, f.provider, []availability.Block{
		{DayOfWeek: 1, StartMinute: 9 * 60, EndMinute: 12 * 60, IsActive: true},
		{DayOfWeek: 4, StartMinute: 9 * 60, EndMinute: 17 * 60, IsActive: true},
	}))

	deps := Deps{
		Availability: f.avail,
		Appointments: f.appts,
		Services:     f.services,
		Clock:        func() time.Time { return now },
		Metrics:      metrics.NewSchedulingMetrics(prometheus.NewRegistry()),
	}
	for _, fn := range tweak {
		fn(&deps)
	}
	f.coord = NewCoordinator(deps)
	return f
}

func (f *fixture) book(actor appointment.Actor, date time.Time, start string) (*appointment.Appointment, error) {
	return f.coord.Book(context.Background(), BookRequest{
		Actor:      actor,
		ProviderID: f.provider,
		ServiceID:  f.service,
		ClientID:   f.client.ID,
		Date:       date,
		Start:      start,
	})
}

func TestBookMondayScenario(t *testing.T) {
	f := newFixture(t)

	first, err := f.book(f.client, monday, "09:00")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, first.Status)
	assert.Equal(t, 540, first.StartMinute)
	assert.Equal(t, 570, first.EndMinute)
	assert.Equal(t, f.client.ID, first.ClientID)

	_, err = f.book(f.client, monday, "09:15")
	assert.ErrorIs(t, err, apperr.ErrSlotConflict)
	assert.Equal(t, []timewindow.Window{{Start: 540, End: 570}}, apperr.Conflicts(err))

	_, err = f.book(f.admin, monday, "09:30")
	assert.NoError(t, err, "back-to-back bookings are fine")

	_, err = f.book(f.client, monday, "11:45")
	assert.ErrorIs(t, err, apperr.ErrOutsideAvailability)

	_, err = f.book(f.client, monday, "08:45")
	assert.ErrorIs(t, err, apperr.ErrOutsideAvailability)

	_, err = f.book(f.client, tuesday, "09:00")
	assert.ErrorIs(t, err, apperr.ErrNoAvailability)
}

func TestBookInitialStatusByRole(t *testing.T) {
	f := newFixture(t)

	byStaff, err := f.book(f.admin, monday, "09:00")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, byStaff.Status)

	byProvider, err := f.book(f.doctor, monday, "10:00")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, byProvider.Status)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(f.client, monday, "9:00")
	assert.ErrorIs(t, err, apperr.ErrInvalidFormat)

	_, err = f.book(f.client, monday.AddDate(0, 0, -7), "09:00")
	assert.ErrorIs(t, err, apperr.ErrPastDate)

	_, err = f.book(f.admin, thursday, "09:30")
	assert.ErrorIs(t, err, apperr.ErrPastDate, "09:30 today has passed at 10:00")

	_, err = f.book(f.admin, thursday, "10:00")
	assert.ErrorIs(t, err, apperr.ErrPastDate, "the current minute is not bookable")

	_, err = f.coord.Book(context.Background(), BookRequest{
		Actor: f.client, ProviderID: f.provider, ServiceID: uuid.New(), Date: monday, Start: "09:00",
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.coord.Book(context.Background(), BookRequest{
		Actor: f.client, ProviderID: uuid.New(), ServiceID: f.service, Date: monday, Start: "09:00",
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.coord.Book(context.Background(), BookRequest{
		Actor: f.admin, ProviderID: f.provider, ServiceID: f.service, Date: monday, Start: "09:00",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidFormat, "staff must name the client")
}

func TestBookPastMidnightIsOutsideAvailability(t *testing.T) {
	f := newFixture(t)
	long := uuid.New()
	f.services.PutService(catalog.Service{ID: long, TenantID: f.tenant, DurationMinutes: 120, Active: true})

	_, err := f.coord.Book(context.Background(), BookRequest{
		Actor: f.client, ProviderID: f.provider, ServiceID: long, Date: monday, Start: "23:00",
	})
	assert.ErrorIs(t, err, apperr.ErrOutsideAvailability)
}

func TestBookInactiveServiceIsNotFound(t *testing.T) {
	f := newFixture(t)
	retired := uuid.New()
	f.services.PutService(catalog.Service{ID: retired, TenantID: f.tenant, DurationMinutes: 30, Active: false})

	_, err := f.coord.Book(context.Background(), BookRequest{
		Actor: f.client, ProviderID: f.provider, ServiceID: retired, Date: monday, Start: "09:00",
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBookProviderNotBookable(t *testing.T) {
	f := newFixture(t)
	f.avail.PutProvider(availability.Provider{ID: f.provider, TenantID: f.tenant, Kind: availability.KindMember, AllowBookings: false})

	_, err := f.book(f.client, monday, "09:00")
	assert.ErrorIs(t, err, apperr.ErrProviderNotBookable)
}

func TestBookSameDayGate(t *testing.T) {
	t.Run("client without feature", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.book(f.client, thursday, "14:00")
		assert.ErrorIs(t, err, apperr.ErrOutsideAvailability)
		assert.Contains(t, err.Error(), "same-day booking is not enabled")
	})

	t.Run("staff always", func(t *testing.T) {
		f := newFixture(t)
		appt, err := f.book(f.admin, thursday, "14:00")
		require.NoError(t, err)
		assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	})

	t.Run("client with feature", func(t *testing.T) {
		var f *fixture
		f = newFixture(t, func(d *Deps) {
			d.Features = featureFunc(func(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
				return tenantID == f.tenant && feature == catalog.FeatureAdvancedScheduling, nil
			})
		})
		_, err := f.book(f.client, thursday, "14:00")
		assert.NoError(t, err)
	})

	t.Run("gate failure degrades to disabled", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Features = featureFunc(func(context.Context, uuid.UUID, string) (bool, error) {
				return true, errors.New("plan service down")
			})
		})
		_, err := f.book(f.client, thursday, "14:00")
		assert.ErrorIs(t, err, apperr.ErrOutsideAvailability)
	})
}

type featureFunc func(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error)

func (f featureFunc) HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	return f(ctx, tenantID, feature)
}

func TestBookTenantIsolation(t *testing.T) {
	f := newFixture(t)
	outsider := appointment.Actor{ID: uuid.New(), Role: appointment.RoleTenantAdmin, TenantID: uuid.New()}

	_, err := f.coord.Book(context.Background(), BookRequest{
		Actor: outsider, ProviderID: f.provider, ServiceID: f.service, ClientID: uuid.New(), Date: monday, Start: "09:00",
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mine, err := f.book(f.client, monday, "09:00")
	require.NoError(t, err)
	_, err = f.coord.GetAppointment(context.Background(), outsider, mine.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentBookingsOneWinner(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := appointment.Actor{ID: uuid.New(), Role: appointment.RoleClient, TenantID: f.tenant}
			_, err := f.book(client, monday, "10:00")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	windows, err := f.appts.FindBlocking(context.Background(), f.tenant, f.provider, monday, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}

func TestConcurrentBookingsWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newFixture(t, func(d *Deps) {
		d.Locker = redisclient.NewRedisScheduleLocker(rdb, 5*time.Second, 5*time.Second)
	})

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := appointment.Actor{ID: uuid.New(), Role: appointment.RoleClient, TenantID: f.tenant}
			_, results[i] = f.book(client, monday, "11:00")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrSlotConflict)
	}
	assert.Equal(t, 1, ok)
	assert.Empty(t, mr.Keys(), "all schedule locks released")
}

func TestBookLockBusyIsStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newFixture(t, func(d *Deps) {
		d.Locker = redisclient.NewRedisScheduleLocker(rdb, 5*time.Second, 50*time.Millisecond)
	})
	key := appointment.ScheduleKey{TenantID: f.tenant, ProviderID: f.provider, Date: monday}
	require.NoError(t, mr.Set("lock:"+key.String(), "held-elsewhere"))

	_, err := f.book(f.client, monday, "09:00")
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}

func TestLifecycleCancelThenComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(f.client, monday, "09:00")
	require.NoError(t, err)

	confirmed, err := f.coord.Transition(ctx, f.doctor, appt.ID, appointment.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, confirmed.Status)

	_, err = f.coord.Transition(ctx, f.client, appt.ID, appointment.StatusCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	_, err = f.coord.Transition(ctx, f.client, appt.ID, appointment.StatusCancelled, "can't make it")
	require.NoError(t, err)

	_, err = f.coord.Transition(ctx, f.admin, appt.ID, appointment.StatusCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrTerminalState)

	history, err := f.coord.History(ctx, f.admin, appt.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, appointment.StatusCancelled, history[2].To)
	assert.Equal(t, "can't make it", history[2].Reason)

	_, err = f.book(f.client, monday, "09:00")
	assert.NoError(t, err, "a cancelled appointment frees its slot")
}

func TestTransitionOtherClientSeesNotFound(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(f.client, monday, "09:00")
	require.NoError(t, err)

	stranger := appointment.Actor{ID: uuid.New(), Role: appointment.RoleClient, TenantID: f.tenant}
	_, err = f.coord.Transition(context.Background(), stranger, appt.ID, appointment.StatusCancelled, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(f.client, monday, "09:00")
	require.NoError(t, err)
	other, err := f.book(f.admin, monday, "10:00")
	require.NoError(t, err)

	moved, err := f.coord.Reschedule(ctx, RescheduleRequest{Actor: f.client, AppointmentID: appt.ID, Date: monday, Start: "09:15"})
	require.NoError(t, err, "overlapping its own old slot is allowed")
	assert.Equal(t, 555, moved.StartMinute)
	assert.Equal(t, 585, moved.EndMinute)

	_, err = f.coord.Reschedule(ctx, RescheduleRequest{Actor: f.client, AppointmentID: appt.ID, Date: monday, Start: "09:45"})
	assert.ErrorIs(t, err, apperr.ErrSlotConflict)

	unchanged, err := f.coord.GetAppointment(ctx, f.client, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, 555, unchanged.StartMinute, "failed reschedule leaves the original")

	_, err = f.coord.Reschedule(ctx, RescheduleRequest{Actor: f.client, AppointmentID: appt.ID, Date: tuesday, Start: "09:00"})
	assert.ErrorIs(t, err, apperr.ErrNoAvailability)

	next := monday.AddDate(0, 0, 7)
	moved, err = f.coord.Reschedule(ctx, RescheduleRequest{Actor: f.client, AppointmentID: appt.ID, Date: next, Start: "09:00"})
	require.NoError(t, err)
	assert.True(t, moved.Date.Equal(next))

	_, err = f.coord.Transition(ctx, f.admin, other.ID, appointment.StatusCompleted, "")
	require.NoError(t, err)
	_, err = f.coord.Reschedule(ctx, RescheduleRequest{Actor: f.admin, AppointmentID: other.ID, Date: next, Start: "11:00"})
	assert.ErrorIs(t, err, apperr.ErrTerminalState)
}

func TestRescheduleByAnotherProviderIsForbidden(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(f.client, monday, "09:00")
	require.NoError(t, err)

	otherDoctor := appointment.Actor{ID: uuid.New(), Role: appointment.RoleProvider, TenantID: f.tenant}
	_, err = f.coord.Reschedule(context.Background(), RescheduleRequest{Actor: otherDoctor, AppointmentID: appt.ID, Date: monday, Start: "10:00"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestBookOnAnotherProvidersScheduleIsForbidden(t *testing.T) {
	f := newFixture(t)

	otherDoctor := appointment.Actor{ID: uuid.New(), Role: appointment.RoleProvider, TenantID: f.tenant}
	_, err := f.book(otherDoctor, monday, "09:00")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	own, err := f.book(f.doctor, monday, "09:00")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, own.Status, "the slot stayed free for its owner")
}

func TestReplaceAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blocks := []availability.Block{
		{DayOfWeek: 1, StartMinute: 540, EndMinute: 720, IsActive: true},
		{DayOfWeek: 1, StartMinute: 660, EndMinute: 840, IsActive: true},
	}

	err := f.coord.ReplaceAvailability(ctx, f.admin, f.provider, blocks)
	assert.ErrorIs(t, err, apperr.ErrOverlappingAvailability)

	day := 1
	current, err := f.coord.Availability(ctx, f.client, f.provider, &day)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, 720, current[0].EndMinute, "rejected replace keeps prior blocks")

	err = f.coord.ReplaceAvailability(ctx, f.client, f.provider, blocks[:1])
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	otherDoctor := appointment.Actor{ID: uuid.New(), Role: appointment.RoleProvider, TenantID: f.tenant}
	err = f.coord.ReplaceAvailability(ctx, otherDoctor, f.provider, blocks[:1])
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	err = f.coord.ReplaceAvailability(ctx, f.doctor, f.provider, []availability.Block{
		{DayOfWeek: 2, StartMinute: 480, EndMinute: 600, IsActive: true},
	})
	require.NoError(t, err)

	_, err = f.book(f.client, monday, "09:00")
	assert.ErrorIs(t, err, apperr.ErrNoAvailability)
	_, err = f.book(f.client, tuesday, "08:00")
	assert.NoError(t, err)
}

func TestSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.book(f.admin, monday, "09:30")
	require.NoError(t, err)

	slots, err := f.coord.Slots(ctx, SlotsRequest{Actor: f.client, ProviderID: f.provider, ServiceID: f.service, Date: monday, Step: 30})
	require.NoError(t, err)
	assert.Equal(t, []timewindow.Window{
		{Start: 540, End: 570},
		{Start: 600, End: 630},
		{Start: 630, End: 660},
		{Start: 660, End: 690},
		{Start: 690, End: 720},
	}, slots)

	for _, s := range slots {
		_, err := f.book(f.admin, monday, timewindow.FormatTime(s.Start))
		require.NoError(t, err, "every offered slot is bookable")
	}

	empty, err := f.coord.Slots(ctx, SlotsRequest{Actor: f.client, ProviderID: f.provider, ServiceID: f.service, Date: tuesday, Step: 30})
	require.NoError(t, err)
	assert.Empty(t, empty)

	todayForClient, err := f.coord.Slots(ctx, SlotsRequest{Actor: f.client, ProviderID: f.provider, ServiceID: f.service, Date: thursday, Step: 60})
	require.NoError(t, err)
	assert.Empty(t, todayForClient, "no same-day slots without the feature")

	todayForStaff, err := f.coord.Slots(ctx, SlotsRequest{Actor: f.admin, ProviderID: f.provider, ServiceID: f.service, Date: thursday, Step: 60})
	require.NoError(t, err)
	require.NotEmpty(t, todayForStaff)
	assert.Equal(t, 11*60, todayForStaff[0].Start, "10:00 has passed")
}
