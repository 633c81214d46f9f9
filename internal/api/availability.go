package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appointly/booking-engine/internal/booking"
)

func createAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		professionalID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "id must be a valid UUID")
			return
		}

		var req CreateAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := booking.CreateAvailabilityInput{
			ProfessionalID:  professionalID,
			StartTime:       req.StartTime,
			EndTime:         req.EndTime,
			IsRecurring:     req.IsRecurring,
			DurationMinutes: req.DurationMinutes,
			Type:            req.Type,
			GenerateSlots:   true,
			SlotMinutes:     req.SlotMinutes,
		}
		if req.GenerateSlots != nil {
			in.GenerateSlots = *req.GenerateSlots
		}
		if req.RecurrencePattern != "" {
			pattern, err := booking.ParseRecurrence(req.RecurrencePattern)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			in.RecurrencePattern = &pattern
		}

		av, slots, err := svc.CreateAvailability(r.Context(), actor, in)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"availability":  toAvailabilityResponse(*av),
			"slots_created": len(slots),
		})
	}
}

func listAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		professionalID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "id must be a valid UUID")
			return
		}

		from, to, err := parseDateRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_range", err.Error())
			return
		}

		avs, err := svc.ListAvailability(r.Context(), professionalID, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		slots, err := svc.ListAvailableSlots(r.Context(), &professionalID, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		avResponses := make([]AvailabilityResponse, 0, len(avs))
		for _, av := range avs {
			avResponses = append(avResponses, toAvailabilityResponse(av))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"availability": avResponses,
			"slots":        toSlotResponses(slots),
		})
	}
}

func generateSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		availabilityID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_availability_id", "id must be a valid UUID")
			return
		}

		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slots, err := svc.GenerateSlots(r.Context(), availabilityID, req.SlotMinutes)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"slots": toSlotResponses(slots)})
	}
}

func listSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		var professionalID *uuid.UUID
		if raw := r.URL.Query().Get("professional_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
				return
			}
			professionalID = &id
		}

		from, to, err := parseDateRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_range", err.Error())
			return
		}

		slots, err := svc.ListAvailableSlots(r.Context(), professionalID, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"slots": toSlotResponses(slots)})
	}
}

func listAppointmentTypesHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types, err := svc.ListAppointmentTypes(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]AppointmentTypeResponse, 0, len(types))
		for _, t := range types {
			out = append(out, AppointmentTypeResponse{
				ID:              t.ID,
				Name:            t.Name,
				Description:     t.Description,
				DurationMinutes: t.DurationMinutes,
				IsVirtual:       t.IsVirtual,
				ColorCode:       t.ColorCode,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"appointment_types": out})
	}
}

// parseDateRange reads optional start_date/end_date query params, accepting
// RFC 3339 timestamps or plain dates.
func parseDateRange(r *http.Request) (*time.Time, *time.Time, error) {
	parse := func(raw string) (*time.Time, error) {
		if raw == "" {
			return nil, nil
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return &t, nil
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}

	from, err := parse(r.URL.Query().Get("start_date"))
	if err != nil {
		return nil, nil, err
	}
	to, err := parse(r.URL.Query().Get("end_date"))
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
