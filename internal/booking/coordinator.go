package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/catalog"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

var tracer = otel.Tracer("clinic.internal.booking")

// maxStatusRetries bounds how often Transition re-reads after losing the
// status compare-and-set to a concurrent writer.
const maxStatusRetries = 3

type ServiceCatalog interface {
	GetService(ctx context.Context, tenantID, serviceID uuid.UUID) (*catalog.Service, error)
}

// Locker is satisfied by redisclient.Locker.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type Deps struct {
	Availability availability.Repository
	Appointments appointment.Store
	Services     ServiceCatalog
	Features     catalog.FeatureGate // optional; nil disables same-day client booking
	Locker       Locker              // optional
	Clock        func() time.Time    // tenant wall clock; defaults to time.Now in UTC
	Logger       *zap.Logger
	Metrics      *metrics.SchedulingMetrics
	StoreTimeout time.Duration // 0 leaves store calls bounded only by the caller
}

type Coordinator struct {
	resolver     *Resolver
	avail        availability.Repository
	appts        appointment.Store
	services     ServiceCatalog
	features     catalog.FeatureGate
	locker       Locker
	now          func() time.Time
	logger       *zap.Logger
	metrics      *metrics.SchedulingMetrics
	storeTimeout time.Duration
}

func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		resolver:     NewResolver(d.Availability),
		avail:        d.Availability,
		appts:        d.Appointments,
		services:     d.Services,
		features:     d.Features,
		locker:       d.Locker,
		now:          d.Clock,
		logger:       d.Logger,
		metrics:      d.Metrics,
		storeTimeout: d.StoreTimeout,
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

type BookRequest struct {
	Actor      appointment.Actor
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	ClientID   uuid.UUID // ignored for clients, who always book for themselves
	Date       time.Time
	Start      string // HH:MM
	Notes      string
}

// Book validates the request, then checks and persists inside one atomic
// unit keyed on the provider's day so two overlapping requests cannot both
// pass the resolver.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (appt *appointment.Appointment, err error) {
	const op = "booking.Book"
	tenantID := req.Actor.TenantID

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("provider.id", req.ProviderID.String()),
		attribute.String("actor.role", string(req.Actor.Role)),
	))
	defer func() {
		c.finish(ctx, span, op, err)
		c.metrics.ObserveBooking("book", outcome(err))
	}()

	if req.Actor.Role == appointment.RoleProvider && req.Actor.ID != req.ProviderID {
		return nil, apperr.New(apperr.KindForbidden, op, "providers may only book on their own schedule").
			Scoped(tenantID, req.ProviderID)
	}

	start, err := timewindow.ParseTime(req.Start)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidFormat, op, err)
	}

	clientID := req.ClientID
	if req.Actor.Role == appointment.RoleClient {
		clientID = req.Actor.ID
	}
	if clientID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidFormat, op, "client_id is required")
	}

	window, err := c.serviceWindow(ctx, op, tenantID, req.ProviderID, req.ServiceID, start)
	if err != nil {
		return nil, err
	}
	if err := c.checkDate(ctx, op, req.Actor, req.ProviderID, req.Date, window.Start); err != nil {
		return nil, err
	}

	candidate := appointment.Appointment{
		TenantID:    tenantID,
		ProviderID:  req.ProviderID,
		ServiceID:   req.ServiceID,
		ClientID:    clientID,
		Date:        req.Date,
		StartMinute: window.Start,
		EndMinute:   window.End,
		Status:      appointment.InitialStatus(req.Actor.Role),
		Notes:       req.Notes,
	}
	keys := []appointment.ScheduleKey{appointment.KeyFor(candidate)}

	err = c.atomic(ctx, "book", tenantID, req.ProviderID, keys, func(ctx context.Context, tx appointment.Tx) error {
		if _, err := c.resolver.Resolve(ctx, tx, Candidate{
			TenantID:   tenantID,
			ProviderID: req.ProviderID,
			Date:       req.Date,
			Window:     window,
		}); err != nil {
			return err
		}
		created, err := tx.Create(ctx, candidate, req.Actor)
		if err != nil {
			return apperr.FromStore("appointment.Create", tenantID, req.ProviderID, err)
		}
		appt = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.WithContext(ctx, c.logger).Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider_id", appt.ProviderID.String()),
		zap.String("date", timewindow.FormatDate(appt.Date)),
		zap.Stringer("window", appt.Window()),
		zap.String("status", string(appt.Status)),
	)
	return appt, nil
}

type RescheduleRequest struct {
	Actor         appointment.Actor
	AppointmentID uuid.UUID
	Date          time.Time
	Start         string // HH:MM
}

// Reschedule moves a blocking appointment. The appointment's own interval
// does not count as a conflict, and both the old and new day are locked so
// the move is atomic with respect to bookings on either.
func (c *Coordinator) Reschedule(ctx context.Context, req RescheduleRequest) (appt *appointment.Appointment, err error) {
	const op = "booking.Reschedule"
	tenantID := req.Actor.TenantID

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("appointment.id", req.AppointmentID.String()),
	))
	defer func() {
		c.finish(ctx, span, op, err)
		c.metrics.ObserveBooking("reschedule", outcome(err))
	}()

	start, err := timewindow.ParseTime(req.Start)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidFormat, op, err)
	}

	current, err := c.visibleAppointment(ctx, req.Actor, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, apperr.New(apperr.KindTerminalState, op, "appointment is %s", current.Status).
			Scoped(tenantID, current.ProviderID)
	}
	if !mayManage(req.Actor, *current) {
		return nil, apperr.New(apperr.KindForbidden, op, "role %s may not reschedule this appointment", req.Actor.Role).
			Scoped(tenantID, current.ProviderID)
	}

	window, err := c.serviceWindow(ctx, op, tenantID, current.ProviderID, current.ServiceID, start)
	if err != nil {
		return nil, err
	}
	if err := c.checkDate(ctx, op, req.Actor, current.ProviderID, req.Date, window.Start); err != nil {
		return nil, err
	}

	keys := []appointment.ScheduleKey{
		appointment.KeyFor(*current),
		{TenantID: tenantID, ProviderID: current.ProviderID, Date: req.Date},
	}

	err = c.atomic(ctx, "reschedule", tenantID, current.ProviderID, keys, func(ctx context.Context, tx appointment.Tx) error {
		fresh, err := tx.Get(ctx, tenantID, req.AppointmentID)
		if err != nil {
			return apperr.FromStore("appointment.Get", tenantID, current.ProviderID, err)
		}
		if fresh.Status.Terminal() {
			return apperr.New(apperr.KindTerminalState, op, "appointment is %s", fresh.Status).
				Scoped(tenantID, fresh.ProviderID)
		}
		if _, err := c.resolver.Resolve(ctx, tx, Candidate{
			TenantID:   tenantID,
			ProviderID: fresh.ProviderID,
			Date:       req.Date,
			Window:     window,
			Exclude:    fresh.ID,
		}); err != nil {
			return err
		}
		moved, err := tx.Reschedule(ctx, tenantID, fresh.ID, req.Date, window.Start, window.End)
		if err != nil {
			return apperr.FromStore("appointment.Reschedule", tenantID, fresh.ProviderID, err)
		}
		appt = moved
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.WithContext(ctx, c.logger).Info("appointment rescheduled",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("date", timewindow.FormatDate(appt.Date)),
		zap.Stringer("window", appt.Window()),
	)
	return appt, nil
}

// Transition applies one lifecycle step. The store compares against the
// status the check ran on; if another writer got there first the check is
// repeated on the fresh state.
func (c *Coordinator) Transition(ctx context.Context, actor appointment.Actor, id uuid.UUID, to appointment.Status, reason string) (appt *appointment.Appointment, err error) {
	const op = "booking.Transition"
	tenantID := actor.TenantID

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("appointment.id", id.String()),
		attribute.String("status.to", string(to)),
	))
	defer func() {
		c.finish(ctx, span, op, err)
		c.metrics.ObserveTransition(string(to), outcome(err))
	}()

	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		current, err := c.visibleAppointment(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		if err := appointment.CheckTransition(actor, *current, to); err != nil {
			return nil, scoped(err, tenantID, current.ProviderID)
		}

		storeCtx, cancel := c.storeCtx(ctx)
		updated, err := c.appts.UpdateStatus(storeCtx, tenantID, id, current.Status, appointment.StatusChange{
			To:     to,
			Actor:  actor,
			Reason: reason,
		})
		cancel()
		if errors.Is(err, appointment.ErrStatusChanged) {
			continue
		}
		if err != nil {
			return nil, apperr.FromStore("appointment.UpdateStatus", tenantID, current.ProviderID, err)
		}

		logging.WithContext(ctx, c.logger).Info("appointment status changed",
			zap.String("appointment_id", id.String()),
			zap.String("tenant_id", tenantID.String()),
			zap.String("from", string(current.Status)),
			zap.String("to", string(to)),
			zap.String("actor_role", string(actor.Role)),
		)
		return updated, nil
	}
	return nil, apperr.New(apperr.KindIllegalTransition, op, "status changed concurrently, retry").Scoped(tenantID, uuid.Nil)
}

// ReplaceAvailability swaps a provider's weekly blocks. Staff may edit any
// provider in the tenant; a provider only their own schedule.
func (c *Coordinator) ReplaceAvailability(ctx context.Context, actor appointment.Actor, providerID uuid.UUID, blocks []availability.Block) (err error) {
	const op = "booking.ReplaceAvailability"
	tenantID := actor.TenantID

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("provider.id", providerID.String()),
		attribute.Int("blocks", len(blocks)),
	))
	defer func() {
		c.finish(ctx, span, op, err)
		c.metrics.ObserveAvailabilityReplace(outcome(err))
	}()

	if !actor.Role.IsStaff() && !(actor.Role == appointment.RoleProvider && actor.ID == providerID) {
		return apperr.New(apperr.KindForbidden, op, "role %s may not edit this schedule", actor.Role).Scoped(tenantID, providerID)
	}

	storeCtx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.avail.ReplaceBlocks(storeCtx, tenantID, providerID, blocks); err != nil {
		return apperr.FromStore("availability.ReplaceBlocks", tenantID, providerID, err)
	}

	logging.WithContext(ctx, c.logger).Info("availability replaced",
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider_id", providerID.String()),
		zap.Int("blocks", len(blocks)),
	)
	return nil
}

// atomic bounds the unit by the store timeout, takes the optional
// cross-instance lock and then the store's own serialisation.
func (c *Coordinator) atomic(ctx context.Context, operation string, tenantID, providerID uuid.UUID, keys []appointment.ScheduleKey, fn func(ctx context.Context, tx appointment.Tx) error) error {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()

	run := func(ctx context.Context) error {
		began := time.Now()
		err := c.appts.Atomic(ctx, keys, fn)
		c.metrics.ObserveAtomicUnit(operation, time.Since(began).Seconds())
		return err
	}

	var err error
	if c.locker == nil {
		err = run(ctx)
	} else {
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, k.String())
		}
		waitStart := time.Now()
		err = c.locker.WithLock(ctx, names, func(ctx context.Context) error {
			c.metrics.ObserveLockWait(time.Since(waitStart).Seconds())
			return run(ctx)
		})
	}
	return apperr.FromStore("appointment.Atomic", tenantID, providerID, err)
}

func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.storeTimeout)
}

// serviceWindow turns a start minute into the service's full interval.
func (c *Coordinator) serviceWindow(ctx context.Context, op string, tenantID, providerID, serviceID uuid.UUID, start int) (timewindow.Window, error) {
	storeCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	svc, err := c.services.GetService(storeCtx, tenantID, serviceID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return timewindow.Window{}, apperr.New(apperr.KindNotFound, op, "service %s not found", serviceID).Scoped(tenantID, providerID)
		}
		return timewindow.Window{}, apperr.FromStore("catalog.GetService", tenantID, providerID, err)
	}
	if !svc.Active {
		return timewindow.Window{}, apperr.New(apperr.KindNotFound, op, "service %s is not offered", serviceID).Scoped(tenantID, providerID)
	}
	if svc.DurationMinutes <= 0 {
		return timewindow.Window{}, apperr.New(apperr.KindInvalidFormat, op, "service %s has no duration", serviceID)
	}

	w := timewindow.Window{Start: start, End: start + svc.DurationMinutes}
	if w.End > timewindow.MinutesPerDay {
		return timewindow.Window{}, apperr.New(apperr.KindOutsideAvailability, op, "service would end after midnight").
			Scoped(tenantID, providerID)
	}
	return w, nil
}

// checkDate rejects past dates and start times, and same-day bookings by
// clients unless the tenant's plan allows them. Staff may always book today.
func (c *Coordinator) checkDate(ctx context.Context, op string, actor appointment.Actor, providerID uuid.UUID, date time.Time, start int) error {
	now := c.now()
	today := timewindow.DateOf(now)

	if date.Before(today) {
		return apperr.New(apperr.KindPastDate, op, "date %s is before %s", timewindow.FormatDate(date), timewindow.FormatDate(today)).
			Scoped(actor.TenantID, providerID)
	}
	if !date.Equal(today) {
		return nil
	}
	if start <= timewindow.MinuteOfDay(now) {
		return apperr.New(apperr.KindPastDate, op, "start %s has already passed", timewindow.FormatTime(start)).
			Scoped(actor.TenantID, providerID)
	}
	if actor.Role == appointment.RoleClient && !c.sameDayAllowed(ctx, actor.TenantID) {
		return apperr.New(apperr.KindOutsideAvailability, op, "same-day booking is not enabled").
			Scoped(actor.TenantID, providerID)
	}
	return nil
}

func (c *Coordinator) sameDayAllowed(ctx context.Context, tenantID uuid.UUID) bool {
	if c.features == nil {
		return false
	}
	storeCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	ok, err := c.features.HasFeature(storeCtx, tenantID, catalog.FeatureAdvancedScheduling)
	if err != nil {
		logging.WithContext(ctx, c.logger).Warn("feature gate unavailable, treating as disabled",
			zap.String("tenant_id", tenantID.String()),
			zap.String("feature", catalog.FeatureAdvancedScheduling),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// finish records the outcome on the span and logs it. Business rejections
// are expected and stay at debug.
func (c *Coordinator) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		return
	}

	log := logging.WithContext(ctx, c.logger).With(zap.String("op", op), zap.String("kind", string(apperr.KindOf(err))))
	if apperr.IsBusinessRule(err) || apperr.KindOf(err) == apperr.KindNotFound {
		span.SetAttributes(attribute.String("rejection", string(apperr.KindOf(err))))
		log.Debug("request rejected", zap.Error(err))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.Error("scheduling operation failed", zap.Error(err))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func scoped(err error, tenantID, providerID uuid.UUID) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		e.Scoped(tenantID, providerID)
	}
	return err
}

// mayManage reports whether actor may move or cancel appt: staff, the owning
// provider, or the owning client.
func mayManage(actor appointment.Actor, appt appointment.Appointment) bool {
	switch {
	case actor.Role.IsStaff():
		return true
	case actor.Role == appointment.RoleProvider:
		return actor.ID == appt.ProviderID
	case actor.Role == appointment.RoleClient:
		return actor.ID == appt.ClientID
	}
	return false
}
