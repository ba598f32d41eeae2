package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

// Scheduler is the slice of booking.Coordinator the HTTP layer drives.
type Scheduler interface {
	Book(ctx context.Context, req booking.BookRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (*appointment.Appointment, error)
	Transition(ctx context.Context, actor appointment.Actor, id uuid.UUID, to appointment.Status, reason string) (*appointment.Appointment, error)
	ReplaceAvailability(ctx context.Context, actor appointment.Actor, providerID uuid.UUID, blocks []availability.Block) error
	GetAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	History(ctx context.Context, actor appointment.Actor, id uuid.UUID) ([]appointment.HistoryEntry, error)
	Availability(ctx context.Context, actor appointment.Actor, providerID uuid.UUID, day *int) ([]availability.Block, error)
	Slots(ctx context.Context, req booking.SlotsRequest) ([]timewindow.Window, error)
}

func createBookingHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no actor")
			return
		}

		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		var clientID uuid.UUID
		if req.ClientID != "" {
			if clientID, err = uuid.Parse(req.ClientID); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
				return
			}
		}
		date, err := timewindow.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		appt, err := svc.Book(r.Context(), booking.BookRequest{
			Actor:      actor,
			ProviderID: providerID,
			ServiceID:  serviceID,
			ClientID:   clientID,
			Date:       date,
			Start:      req.Start,
			Notes:      req.Notes,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func replaceAvailabilityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no actor")
			return
		}

		var req ReplaceAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		blocks := make([]availability.Block, 0, len(req.Blocks))
		for _, b := range req.Blocks {
			window, err := timewindow.NewWindow(b.Start, b.End)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_format", err.Error())
				return
			}
			active := true
			if b.IsActive != nil {
				active = *b.IsActive
			}
			blocks = append(blocks, availability.Block{
				ProviderID:  providerID,
				DayOfWeek:   b.DayOfWeek,
				StartMinute: window.Start,
				EndMinute:   window.End,
				IsActive:    active,
			})
		}

		if err := svc.ReplaceAvailability(r.Context(), actor, providerID, blocks); err != nil {
			writeAppError(w, err)
			return
		}

		stored, err := svc.Availability(r.Context(), actor, providerID, nil)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBlockResponses(stored))
	}
}

func getAvailabilityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no actor")
			return
		}
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		var day *int
		if raw := r.URL.Query().Get("day"); raw != "" {
			d, err := strconv.Atoi(raw)
			if err != nil || d < 0 || d > 6 {
				writeError(w, http.StatusBadRequest, "invalid_day", "day must be 0 (Sunday) to 6 (Saturday)")
				return
			}
			day = &d
		}

		blocks, err := svc.Availability(r.Context(), actor, providerID, day)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBlockResponses(blocks))
	}
}

func getSlotsHandler(svc Scheduler, step int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "no actor")
			return
		}
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}
		query := r.URL.Query()
		serviceID, err := uuid.Parse(query.Get("service_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		date, err := timewindow.ParseDate(query.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		slots, err := svc.Slots(r.Context(), booking.SlotsRequest{
			Actor:      actor,
			ProviderID: providerID,
			ServiceID:  serviceID,
			Date:       date,
			Step:       step,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			ProviderID: providerID,
			ServiceID:  serviceID,
			Date:       timewindow.FormatDate(date),
			Slots:      toWindowResponses(slots),
		})
	}
}

func getAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getHistoryHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		entries, err := svc.History(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, err)
			return
		}

		resp := make([]HistoryEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, HistoryEntryResponse{
				From:      string(e.From),
				To:        string(e.To),
				ActorID:   e.ActorID,
				ActorRole: string(e.ActorRole),
				Reason:    e.Reason,
				At:        e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateStatusHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		to, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}

		appt, err := svc.Transition(r.Context(), actor, id, to, req.Reason)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := timewindow.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), booking.RescheduleRequest{
			Actor:         actor,
			AppointmentID: id,
			Date:          date,
			Start:         req.Start,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func actorAndID(w http.ResponseWriter, r *http.Request) (appointment.Actor, uuid.UUID, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no actor")
		return appointment.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return appointment.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}
