package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

type CreateBookingRequest struct {
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id"`
	ClientID   string `json:"client_id,omitempty"`
	Date       string `json:"date"`
	Start      string `json:"start"`
	Notes      string `json:"notes,omitempty"`
}

type BlockRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

type ReplaceAvailabilityRequest struct {
	ProviderID string         `json:"provider_id"`
	Blocks     []BlockRequest `json:"blocks"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	Date  string `json:"date"`
	Start string `json:"start"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	ClientID   uuid.UUID `json:"client_id"`
	Date       string    `json:"date"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:         a.ID,
		TenantID:   a.TenantID,
		ProviderID: a.ProviderID,
		ServiceID:  a.ServiceID,
		ClientID:   a.ClientID,
		Date:       timewindow.FormatDate(a.Date),
		Start:      timewindow.FormatTime(a.StartMinute),
		End:        timewindow.FormatTime(a.EndMinute),
		Status:     string(a.Status),
		Notes:      a.Notes,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

type HistoryEntryResponse struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	ActorID   uuid.UUID `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type BlockResponse struct {
	ID        uuid.UUID `json:"id"`
	DayOfWeek int       `json:"day_of_week"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	IsActive  bool      `json:"is_active"`
}

func toBlockResponses(blocks []availability.Block) []BlockResponse {
	out := make([]BlockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, BlockResponse{
			ID:        b.ID,
			DayOfWeek: b.DayOfWeek,
			Start:     timewindow.FormatTime(b.StartMinute),
			End:       timewindow.FormatTime(b.EndMinute),
			IsActive:  b.IsActive,
		})
	}
	return out
}

type WindowResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toWindowResponses(ws []timewindow.Window) []WindowResponse {
	out := make([]WindowResponse, 0, len(ws))
	for _, w := range ws {
		out = append(out, WindowResponse{Start: timewindow.FormatTime(w.Start), End: timewindow.FormatTime(w.End)})
	}
	return out
}

type SlotsResponse struct {
	ProviderID uuid.UUID        `json:"provider_id"`
	ServiceID  uuid.UUID        `json:"service_id"`
	Date       string           `json:"date"`
	Slots      []WindowResponse `json:"slots"`
}

type ErrorResponse struct {
	Error     string           `json:"error"`
	Details   string           `json:"details,omitempty"`
	Conflicts []WindowResponse `json:"conflicts,omitempty"`
}
