package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/outbox"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

const appointmentColumns = `id, tenant_id, provider_id, service_id, client_id, date, start_minute, end_minute, status, notes, created_at, updated_at`

// PgStore relies on the appointments_no_overlap exclusion constraint for
// correctness and on transaction-scoped advisory locks to keep callers from
// racing into it.
type PgStore struct {
	db     db.DB
	outbox *outbox.Repository
}

func NewPgStore(conn db.DB) *PgStore {
	return &PgStore{db: conn, outbox: outbox.NewRepository()}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ProviderID,
		&a.ServiceID,
		&a.ClientID,
		&a.Date,
		&a.StartMinute,
		&a.EndMinute,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PgStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	return s.get(ctx, s.db, tenantID, id)
}

func (s *PgStore) FindBlocking(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error) {
	return s.findBlocking(ctx, s.db, tenantID, providerID, date, exclude)
}

func (s *PgStore) Create(ctx context.Context, appt Appointment, by Actor) (*Appointment, error) {
	var out *Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.create(ctx, tx, appt, by)
		return err
	})
	return out, err
}

func (s *PgStore) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error) {
	var out *Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.updateStatus(ctx, tx, tenantID, id, from, change)
		return err
	})
	return out, err
}

func (s *PgStore) Reschedule(ctx context.Context, tenantID, id uuid.UUID, date time.Time, start, end int) (*Appointment, error) {
	var out *Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.reschedule(ctx, tx, tenantID, id, date, start, end)
		return err
	})
	return out, err
}

func (s *PgStore) History(ctx context.Context, tenantID, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.get(ctx, s.db, tenantID, id); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, tenant_id, from_status, to_status, actor_id, actor_role, reason, created_at
		FROM appointment_status_history
		WHERE appointment_id = $1 AND tenant_id = $2
		ORDER BY created_at, id
	`, id, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e    HistoryEntry
			from *string
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.TenantID, &from, &e.To, &e.ActorID, &e.ActorRole, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		if from != nil {
			e.From = Status(*from)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Atomic opens a READ COMMITTED transaction and takes one advisory lock per
// key, in sorted order so two callers locking overlapping key sets cannot
// deadlock. Reads after the lock see every commit made under it.
func (s *PgStore) Atomic(ctx context.Context, keys []ScheduleKey, fn func(ctx context.Context, tx Tx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, k.String())
		}
		slices.Sort(names)
		for _, name := range slices.Compact(names) {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
				return fmt.Errorf("acquire schedule lock %s: %w", name, err)
			}
		}
		return fn(ctx, &pgTx{store: s, tx: tx})
	})
}

func (s *PgStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	store *PgStore
	tx    pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	return t.store.get(ctx, t.tx, tenantID, id)
}

func (t *pgTx) FindBlocking(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error) {
	return t.store.findBlocking(ctx, t.tx, tenantID, providerID, date, exclude)
}

func (t *pgTx) Create(ctx context.Context, appt Appointment, by Actor) (*Appointment, error) {
	return t.store.create(ctx, t.tx, appt, by)
}

func (t *pgTx) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error) {
	return t.store.updateStatus(ctx, t.tx, tenantID, id, from, change)
}

func (t *pgTx) Reschedule(ctx context.Context, tenantID, id uuid.UUID, date time.Time, start, end int) (*Appointment, error) {
	return t.store.reschedule(ctx, t.tx, tenantID, id, date, start, end)
}

func (s *PgStore) get(ctx context.Context, q db.Querier, tenantID, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanAppointment(row)
}

func (s *PgStore) findBlocking(ctx context.Context, q db.Querier, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error) {
	rows, err := q.Query(ctx, `
		SELECT start_minute, end_minute
		FROM appointments
		WHERE tenant_id = $1
		  AND provider_id = $2
		  AND date = $3
		  AND status IN ('pending', 'confirmed')
		  AND id <> $4
		ORDER BY start_minute
	`, tenantID, providerID, date, exclude)
	if err != nil {
		return nil, fmt.Errorf("query blocking appointments: %w", err)
	}
	defer rows.Close()

	var windows []timewindow.Window
	for rows.Next() {
		var w timewindow.Window
		if err := rows.Scan(&w.Start, &w.End); err != nil {
			return nil, fmt.Errorf("scan blocking appointment: %w", err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

func (s *PgStore) create(ctx context.Context, tx pgx.Tx, appt Appointment, by Actor) (*Appointment, error) {
	const op = "appointment.Create"
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, provider_id, service_id, client_id, date, start_minute, end_minute, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		appt.ID, appt.TenantID, appt.ProviderID, appt.ServiceID, appt.ClientID,
		appt.Date, appt.StartMinute, appt.EndMinute, appt.Status, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		switch {
		case db.IsExclusionViolation(err):
			return nil, apperr.Wrap(apperr.KindSlotConflict, op, err).Scoped(appt.TenantID, appt.ProviderID)
		case db.IsForeignKeyViolation(err):
			e := apperr.Wrap(apperr.KindNotFound, op, err).Scoped(appt.TenantID, appt.ProviderID)
			e.Msg = "provider, service or client does not exist in tenant"
			return nil, e
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := s.insertHistory(ctx, tx, HistoryEntry{
		AppointmentID: created.ID,
		TenantID:      created.TenantID,
		To:            created.Status,
		ActorID:       by.ID,
		ActorRole:     by.Role,
	}); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, tx, EventAppointmentCreated, created, nil); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PgStore) updateStatus(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND tenant_id = $2
		  AND status = $4
		RETURNING `+appointmentColumns,
		id, tenantID, change.To, from)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			if _, getErr := s.get(ctx, tx, tenantID, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	if err := s.insertHistory(ctx, tx, HistoryEntry{
		AppointmentID: id,
		TenantID:      tenantID,
		From:          from,
		To:            change.To,
		ActorID:       change.Actor.ID,
		ActorRole:     change.Actor.Role,
		Reason:        change.Reason,
	}); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, tx, EventAppointmentStatusChanged, updated, &change); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PgStore) reschedule(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, date time.Time, start, end int) (*Appointment, error) {
	const op = "appointment.Reschedule"

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET date = $3,
		    start_minute = $4,
		    end_minute = $5,
		    updated_at = now()
		WHERE id = $1
		  AND tenant_id = $2
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns,
		id, tenantID, date, start, end)

	moved, err := scanAppointment(row)
	if err != nil {
		switch {
		case errors.Is(err, ErrAppointmentNotFound):
			current, getErr := s.get(ctx, tx, tenantID, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, apperr.New(apperr.KindTerminalState, op, "appointment is %s", current.Status)
		case db.IsExclusionViolation(err):
			e := apperr.Wrap(apperr.KindSlotConflict, op, err)
			e.TenantID = tenantID
			return nil, e
		}
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}

	if err := s.publish(ctx, tx, EventAppointmentRescheduled, moved, nil); err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *PgStore) insertHistory(ctx context.Context, tx pgx.Tx, e HistoryEntry) error {
	var from *string
	if e.From != "" {
		f := string(e.From)
		from = &f
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_status_history (id, appointment_id, tenant_id, from_status, to_status, actor_id, actor_role, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, uuid.New(), e.AppointmentID, e.TenantID, from, e.To, e.ActorID, e.ActorRole, e.Reason)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

type eventPayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	ServiceID     uuid.UUID `json:"service_id"`
	ClientID      uuid.UUID `json:"client_id"`
	Date          string    `json:"date"`
	Start         string    `json:"start"`
	End           string    `json:"end"`
	Status        Status    `json:"status"`
	ActorID       string    `json:"actor_id,omitempty"`
	ActorRole     Role      `json:"actor_role,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

func (s *PgStore) publish(ctx context.Context, tx pgx.Tx, eventType string, a *Appointment, change *StatusChange) error {
	p := eventPayload{
		AppointmentID: a.ID,
		TenantID:      a.TenantID,
		ProviderID:    a.ProviderID,
		ServiceID:     a.ServiceID,
		ClientID:      a.ClientID,
		Date:          timewindow.FormatDate(a.Date),
		Start:         timewindow.FormatTime(a.StartMinute),
		End:           timewindow.FormatTime(a.EndMinute),
		Status:        a.Status,
	}
	if change != nil {
		p.ActorID = change.Actor.ID.String()
		p.ActorRole = change.Actor.Role
		p.Reason = change.Reason
	}

	evt, err := outbox.NewEvent(a.TenantID, a.ID, eventType, p)
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, evt)
}
