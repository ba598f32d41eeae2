package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidFormat:
		return http.StatusBadRequest
	case apperr.KindOverlappingAvailability,
		apperr.KindOutsideAvailability,
		apperr.KindNoAvailability,
		apperr.KindPastDate:
		return http.StatusUnprocessableEntity
	case apperr.KindSlotConflict,
		apperr.KindProviderNotBookable,
		apperr.KindIllegalTransition,
		apperr.KindTerminalState:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeAppError maps the error taxonomy onto HTTP. Infrastructure details
// never reach the client.
func writeAppError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
		return
	}

	resp := ErrorResponse{Error: string(e.Kind), Details: e.Msg}
	switch e.Kind {
	case apperr.KindStoreUnavailable:
		resp.Details = "scheduling store unavailable, retry later"
	case apperr.KindSlotConflict:
		resp.Conflicts = toWindowResponses(e.Conflicts)
	}
	writeJSON(w, statusFor(e.Kind), resp)
}
