package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appointly/booking-engine/internal/booking"
	"github.com/appointly/booking-engine/internal/notify"
)

func rateAppointmentHandler(svc *booking.Service) http.HandlerFunc {
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

		var req RateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rating, err := svc.RateAppointment(r.Context(), actor, booking.RateAppointmentInput{
			AppointmentID: id,
			Rating:        req.Rating,
			Feedback:      req.Feedback,
			IsAnonymous:   req.IsAnonymous,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, RatingResponse{
			ID:            rating.ID,
			AppointmentID: rating.AppointmentID,
			Rating:        rating.Rating,
			Feedback:      rating.Feedback,
			IsAnonymous:   rating.IsAnonymous,
		})
	}
}

func createCommunicationHandler(svc *booking.Service) http.HandlerFunc {
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

		var req CreateCommunicationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		recipientID, err := uuid.Parse(req.RecipientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_recipient_id", "recipient_id must be a valid UUID")
			return
		}

		comm, err := svc.AddCommunication(r.Context(), actor, booking.AddCommunicationInput{
			AppointmentID:  id,
			RecipientID:    recipientID,
			MessageType:    req.MessageType,
			Content:        req.Content,
			AttachmentURLs: req.AttachmentURLs,
			Visibility:     booking.Visibility(req.Visibility),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toCommunicationResponse(*comm))
	}
}

func listNotificationsHandler(store *notify.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var isRead *bool
		if raw := r.URL.Query().Get("is_read"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_is_read", "is_read must be a boolean")
				return
			}
			isRead = &v
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}

		notifications, err := store.ListForUser(r.Context(), actor.ID, isRead, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"notifications": toNotificationResponses(notifications)})
	}
}

func markNotificationReadHandler(store *notify.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_notification_id", "id must be a valid UUID")
			return
		}

		if err := store.MarkRead(r.Context(), id, actor.ID); err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"status": "read"})
	}
}
