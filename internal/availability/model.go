package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

// ProviderKind distinguishes the schedulable identities a tenant can have.
// Both kinds go through the same availability and conflict rules.
type ProviderKind string

const (
	KindDoctor ProviderKind = "doctor"
	KindMember ProviderKind = "member"
)

type Provider struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Kind          ProviderKind
	Name          string
	AllowBookings bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Block is one recurring weekly window. DayOfWeek is 0 (Sunday) to 6 (Saturday).
type Block struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	DayOfWeek   int
	StartMinute int
	EndMinute   int
	IsActive    bool
}

func (b Block) Window() timewindow.Window {
	return timewindow.Window{Start: b.StartMinute, End: b.EndMinute}
}
