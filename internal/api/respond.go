package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/appointly/booking-engine/internal/booking"
	"github.com/appointly/booking-engine/internal/notify"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps the engine's error taxonomy onto transport codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, booking.ErrAvailabilityNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrTypeNotFound):
		writeError(w, http.StatusNotFound, "appointment_type_not_found", err.Error())
	case errors.Is(err, notify.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, "notification_not_found", err.Error())

	case errors.Is(err, booking.ErrInvalidInput),
		errors.Is(err, booking.ErrInvalidStatus),
		errors.Is(err, booking.ErrInvalidWindow),
		errors.Is(err, booking.ErrInvalidDuration),
		errors.Is(err, booking.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrProfessionalMismatch):
		writeError(w, http.StatusConflict, "professional_mismatch", err.Error())
	case errors.Is(err, booking.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, booking.ErrDuplicateRating):
		writeError(w, http.StatusConflict, "duplicate_rating", err.Error())
	case errors.Is(err, booking.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", err.Error())

	case errors.Is(err, booking.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, booking.ErrTerminalState):
		writeError(w, http.StatusForbidden, "terminal_state", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
