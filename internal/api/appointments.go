package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appointly/booking-engine/internal/booking"
)

func createAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		// A requester books for themselves unless an explicit requester_id
		// is supplied (an admin booking on behalf of someone).
		requesterID := actor.ID
		if req.RequesterID != "" {
			id, err := uuid.Parse(req.RequesterID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_requester_id", "requester_id must be a valid UUID")
				return
			}
			requesterID = id
		}

		professionalID, err := uuid.Parse(req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		typeID, err := uuid.Parse(req.TypeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_type_id", "appointment_type_id must be a valid UUID")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), booking.CreateAppointmentInput{
			RequesterID:    requesterID,
			ProfessionalID: professionalID,
			SlotID:         slotID,
			TypeID:         typeID,
			Status:         booking.AppointmentStatus(req.Status),
			Metadata:       req.Metadata,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(detail))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		in := booking.ListAppointmentsInput{UserID: actor.ID}

		if raw := r.URL.Query().Get("role"); raw != "" {
			role, err := booking.ParseRole(raw)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			in.Role = &role
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := booking.ParseStatus(raw)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			in.Status = &status
		}

		from, to, err := parseDateRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_range", err.Error())
			return
		}
		in.From = from
		in.To = to

		appts, err := svc.ListAppointments(r.Context(), in)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for _, a := range appts {
			out = append(out, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
	}
}

func updateAppointmentStatusHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateAppointmentStatus(r.Context(), actor, id, booking.AppointmentStatus(req.Status), req.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func listHistoryHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		history, err := svc.History(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"history": toHistoryResponses(history)})
	}
}
