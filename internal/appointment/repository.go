package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

const (
	EventAppointmentCreated       = "appointment.created"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventAppointmentRescheduled   = "appointment.rescheduled"
)

var (
	ErrAppointmentNotFound = &apperr.Error{Kind: apperr.KindNotFound, Msg: "appointment not found"}

	// ErrStatusChanged means the compare-and-set in UpdateStatus lost: the
	// stored status is no longer the one the caller checked against.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// Tx is the view of the store available inside Atomic. Outside Atomic the
// same calls run in their own transaction.
type Tx interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)

	// FindBlocking returns the intervals of pending and confirmed appointments
	// for the provider on date, ordered by start. exclude (uuid.Nil for none)
	// drops one appointment, used when rescheduling it.
	FindBlocking(ctx context.Context, tenantID, providerID uuid.UUID, date time.Time, exclude uuid.UUID) ([]timewindow.Window, error)

	// Create persists appt and its first history entry.
	Create(ctx context.Context, appt Appointment, by Actor) (*Appointment, error)

	// UpdateStatus moves the appointment from `from` to change.To and appends
	// the history entry in the same commit. ErrStatusChanged if the stored
	// status is not `from`.
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from Status, change StatusChange) (*Appointment, error)

	// Reschedule moves a blocking appointment to a new date and interval.
	Reschedule(ctx context.Context, tenantID, id uuid.UUID, date time.Time, start, end int) (*Appointment, error)
}

type Store interface {
	Tx

	History(ctx context.Context, tenantID, id uuid.UUID) ([]HistoryEntry, error)

	// Atomic runs fn with all keys held. Two Atomic calls sharing a key never
	// interleave, and fn's writes commit together or not at all.
	Atomic(ctx context.Context, keys []ScheduleKey, fn func(ctx context.Context, tx Tx) error) error
}
