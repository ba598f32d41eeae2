package appointment

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

// ReferenceChecker verifies that an appointment's provider, service and
// client exist in its tenant. It stands in for foreign keys.
type ReferenceChecker interface {
	CheckReferences(ctx context.Context, appt Appointment) error
}

// MemoryStore keeps everything behind one mutex. Atomic holds it for the
// whole callback and restores a snapshot when the callback fails.
type MemoryStore struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]Appointment
	history map[uuid.UUID][]HistoryEntry
	refs    ReferenceChecker
	now     func() time.Time
}

func NewMemoryStore(refs ReferenceChecker) *MemoryStore {
	return &MemoryStore{
		appts:   make(map[uuid.UUID]Appointment),
		history: make(map[uuid.UUID][]HistoryEntry),
		refs:    refs,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx{s}.Get(ctx, tenantID, id)
}

func (s *MemoryStore) FindBlocking(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx{s}.FindBlocking(ctx, tenantID, providerID, date, exclude)
}

func (s *MemoryStore) Create(ctx context.Context, appt Appointment, by Actor) (*Appointment, error) {
	var out *Appointment
	err := s.Atomic(ctx, nil, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Create(ctx, appt, by)
		return err
	})
	return out, err
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx{s}.UpdateStatus(ctx, tenantID, id, from, change)
}

func (s *MemoryStore) Reschedule(ctx context.Context, tenantID, id uuid.UUID, date time.Time, start, end int) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx{s}.Reschedule(ctx, tenantID, id, date, start, end)
}

func (s *MemoryStore) History(ctx context.Context, tenantID, id uuid.UUID) ([]HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	return append([]HistoryEntry(nil), s.history[id]...), nil
}

func (s *MemoryStore) Atomic(ctx context.Context, _ []ScheduleKey, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	appts, history := maps.Clone(s.appts), maps.Clone(s.history)
	if err := fn(ctx, memTx{s}); err != nil {
		s.appts, s.history = appts, history
		return err
	}
	return nil
}

// memTx runs with s.mu held.
type memTx struct {
	s *MemoryStore
}

func (t memTx) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := t.s.appts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t memTx) FindBlocking(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []timewindow.Window
	for _, a := range t.blocking(tenantID, providerID, date, exclude) {
		out = append(out, a.Window())
	}
	return out, nil
}

func (t memTx) blocking(tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range t.s.appts {
		if a.TenantID != tenantID || a.ProviderID != providerID || !a.Date.Equal(date) {
			continue
		}
		if a.ID == exclude || !a.Status.Blocking() {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out
}

// checkOverlap mirrors the Postgres exclusion constraint.
func (t memTx) checkOverlap(op string, a Appointment, exclude uuid.UUID) error {
	var conflicts []timewindow.Window
	for _, b := range t.blocking(a.TenantID, a.ProviderID, a.Date, exclude) {
		if b.Window().Overlaps(a.Window()) {
			conflicts = append(conflicts, b.Window())
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	err := apperr.New(apperr.KindSlotConflict, op, "provider already booked").Scoped(a.TenantID, a.ProviderID)
	err.Conflicts = conflicts
	return err
}

func (t memTx) Create(ctx context.Context, appt Appointment, by Actor) (*Appointment, error) {
	const op = "appointment.Create"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.s.refs != nil {
		if err := t.s.refs.CheckReferences(ctx, appt); err != nil {
			return nil, err
		}
	}
	if appt.Status.Blocking() {
		if err := t.checkOverlap(op, appt, uuid.Nil); err != nil {
			return nil, err
		}
	}

	now := t.s.now()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.CreatedAt, appt.UpdatedAt = now, now
	t.s.appts[appt.ID] = appt
	t.s.history[appt.ID] = append(t.s.history[appt.ID], HistoryEntry{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		TenantID:      appt.TenantID,
		To:            appt.Status,
		ActorID:       by.ID,
		ActorRole:     by.Role,
		CreatedAt:     now,
	})
	return &appt, nil
}

func (t memTx) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error) {
	a, err := t.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}

	now := t.s.now()
	a.Status = change.To
	a.UpdatedAt = now
	t.s.appts[id] = *a
	t.s.history[id] = append(t.s.history[id], HistoryEntry{
		ID:            uuid.New(),
		AppointmentID: id,
		TenantID:      tenantID,
		From:          from,
		To:            change.To,
		ActorID:       change.Actor.ID,
		ActorRole:     change.Actor.Role,
		Reason:        change.Reason,
		CreatedAt:     now,
	})
	return a, nil
}

func (t memTx) Reschedule(ctx context.Context, tenantID, id uuid.UUID, date time.Time, start, end int) (*Appointment, error) {
	const op = "appointment.Reschedule"
	a, err := t.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.Blocking() {
		return nil, apperr.New(apperr.KindTerminalState, op, "appointment is %s", a.Status)
	}

	moved := *a
	moved.Date, moved.StartMinute, moved.EndMinute = date, start, end
	if err := t.checkOverlap(op, moved, id); err != nil {
		return nil, err
	}
	moved.UpdatedAt = t.s.now()
	t.s.appts[id] = moved
	return &moved, nil
}
