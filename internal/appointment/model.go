package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Blocking statuses occupy the provider's time.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type Role string

const (
	RoleTenantAdmin  Role = "tenant_admin"
	RoleReceptionist Role = "receptionist"
	RoleStaff        Role = "staff"
	RoleProvider     Role = "provider"
	RoleClient       Role = "client"
)

// IsStaff reports whether r acts on behalf of the clinic rather than a
// single provider or client.
func (r Role) IsStaff() bool {
	return r == RoleTenantAdmin || r == RoleReceptionist || r == RoleStaff
}

func (r Role) Valid() bool {
	return r.IsStaff() || r == RoleProvider || r == RoleClient
}

// Actor is the verified identity behind a request.
type Actor struct {
	ID       uuid.UUID
	Role     Role
	TenantID uuid.UUID
}

type Appointment struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	ProviderID  uuid.UUID
	ServiceID   uuid.UUID
	ClientID    uuid.UUID
	Date        time.Time
	StartMinute int
	EndMinute   int
	Status      Status
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Appointment) Window() timewindow.Window {
	return timewindow.Window{Start: a.StartMinute, End: a.EndMinute}
}

// HistoryEntry records one status change. From is empty for the entry
// written when the appointment is created.
type HistoryEntry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	TenantID      uuid.UUID
	From          Status
	To            Status
	ActorID       uuid.UUID
	ActorRole     Role
	Reason        string
	CreatedAt     time.Time
}

// StatusChange is the caller-supplied half of a history entry.
type StatusChange struct {
	To     Status
	Actor  Actor
	Reason string
}

// ScheduleKey names the unit bookings are serialised on.
type ScheduleKey struct {
	TenantID   uuid.UUID
	ProviderID uuid.UUID
	Date       time.Time
}

func KeyFor(a Appointment) ScheduleKey {
	return ScheduleKey{TenantID: a.TenantID, ProviderID: a.ProviderID, Date: a.Date}
}

func (k ScheduleKey) String() string {
	return "schedule:" + k.TenantID.String() + ":" + k.ProviderID.String() + ":" + timewindow.FormatDate(k.Date)
}
