package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/appointly/booking-engine/internal/booking"
	"github.com/appointly/booking-engine/internal/notify"
)

type CreateAvailabilityRequest struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	IsRecurring       bool      `json:"is_recurring"`
	RecurrencePattern string    `json:"recurrence_pattern,omitempty"`
	DurationMinutes   int       `json:"duration_minutes"`
	Type              string    `json:"availability_type,omitempty"`
	GenerateSlots     *bool     `json:"generate_slots,omitempty"`
	SlotMinutes       int       `json:"slot_duration_minutes,omitempty"`
}

type GenerateSlotsRequest struct {
	SlotMinutes int `json:"slot_duration_minutes"`
}

type CreateAppointmentRequest struct {
	RequesterID    string         `json:"requester_id,omitempty"`
	ProfessionalID string         `json:"professional_id"`
	SlotID         string         `json:"slot_id"`
	TypeID         string         `json:"appointment_type_id"`
	Status         string         `json:"status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type UpdateStatusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

type RateAppointmentRequest struct {
	Rating      int     `json:"rating"`
	Feedback    *string `json:"feedback,omitempty"`
	IsAnonymous bool    `json:"is_anonymous,omitempty"`
}

type CreateCommunicationRequest struct {
	RecipientID    string   `json:"recipient_id"`
	MessageType    string   `json:"message_type"`
	Content        string   `json:"content"`
	AttachmentURLs []string `json:"attachment_urls,omitempty"`
	Visibility     string   `json:"visibility_level,omitempty"`
}

type AvailabilityResponse struct {
	ID                uuid.UUID `json:"id"`
	ProfessionalID    uuid.UUID `json:"professional_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	IsRecurring       bool      `json:"is_recurring"`
	RecurrencePattern *string   `json:"recurrence_pattern,omitempty"`
	DurationMinutes   int       `json:"duration_minutes"`
	Type              string    `json:"availability_type"`
}

func toAvailabilityResponse(av booking.Availability) AvailabilityResponse {
	resp := AvailabilityResponse{
		ID:              av.ID,
		ProfessionalID:  av.ProfessionalID,
		StartTime:       av.StartTime,
		EndTime:         av.EndTime,
		IsRecurring:     av.IsRecurring,
		DurationMinutes: av.DurationMinutes,
		Type:            av.Type,
	}
	if av.RecurrencePattern != nil {
		p := string(*av.RecurrencePattern)
		resp.RecurrencePattern = &p
	}
	return resp
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	AvailabilityID  uuid.UUID `json:"availability_id"`
	ProfessionalID  uuid.UUID `json:"professional_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	IsAvailable     bool      `json:"is_available"`
	MaxBookings     int       `json:"max_bookings"`
	CurrentBookings int       `json:"current_bookings"`
}

func toSlotResponse(s booking.Slot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		AvailabilityID:  s.AvailabilityID,
		ProfessionalID:  s.ProfessionalID,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		IsAvailable:     s.IsAvailable,
		MaxBookings:     s.MaxBookings,
		CurrentBookings: s.CurrentBookings,
	}
}

func toSlotResponses(slots []booking.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

type AppointmentResponse struct {
	ID             uuid.UUID      `json:"id"`
	RequesterID    uuid.UUID      `json:"requester_id"`
	ProfessionalID uuid.UUID      `json:"professional_id"`
	SlotID         uuid.UUID      `json:"slot_id"`
	TypeID         uuid.UUID      `json:"appointment_type_id"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func toAppointmentResponse(a booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		RequesterID:    a.RequesterID,
		ProfessionalID: a.ProfessionalID,
		SlotID:         a.SlotID,
		TypeID:         a.TypeID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         string(a.Status),
		Metadata:       a.Metadata,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type HistoryResponse struct {
	ID            uuid.UUID              `json:"id"`
	AppointmentID uuid.UUID              `json:"appointment_id"`
	ChangedBy     *uuid.UUID             `json:"changed_by_user_id,omitempty"`
	PreviousState *booking.StateSnapshot `json:"previous_state,omitempty"`
	NewState      booking.StateSnapshot  `json:"new_state"`
	ChangeType    string                 `json:"change_type"`
	ChangeSource  string                 `json:"change_source"`
	CreatedAt     time.Time              `json:"created_at"`
}

func toHistoryResponses(entries []booking.History) []HistoryResponse {
	out := make([]HistoryResponse, 0, len(entries))
	for _, h := range entries {
		out = append(out, HistoryResponse{
			ID:            h.ID,
			AppointmentID: h.AppointmentID,
			ChangedBy:     h.ChangedBy,
			PreviousState: h.PreviousState,
			NewState:      h.NewState,
			ChangeType:    string(h.ChangeType),
			ChangeSource:  string(h.ChangeSource),
			CreatedAt:     h.CreatedAt,
		})
	}
	return out
}

type CommunicationResponse struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	SenderID       uuid.UUID  `json:"sender_user_id"`
	RecipientID    uuid.UUID  `json:"recipient_user_id"`
	MessageType    string     `json:"message_type"`
	Content        string     `json:"content"`
	AttachmentURLs []string   `json:"attachment_urls,omitempty"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Visibility     string     `json:"visibility_level"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toCommunicationResponse(c booking.Communication) CommunicationResponse {
	return CommunicationResponse{
		ID:             c.ID,
		AppointmentID:  c.AppointmentID,
		SenderID:       c.SenderID,
		RecipientID:    c.RecipientID,
		MessageType:    c.MessageType,
		Content:        c.Content,
		AttachmentURLs: c.AttachmentURLs,
		IsRead:         c.IsRead,
		ReadAt:         c.ReadAt,
		Visibility:     string(c.Visibility),
		CreatedAt:      c.CreatedAt,
	}
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	History        []HistoryResponse       `json:"history"`
	Communications []CommunicationResponse `json:"communications"`
}

func toAppointmentDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	comms := make([]CommunicationResponse, 0, len(d.Communications))
	for _, c := range d.Communications {
		comms = append(comms, toCommunicationResponse(c))
	}
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(d.Appointment),
		History:             toHistoryResponses(d.History),
		Communications:      comms,
	}
}

type RatingResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Rating        int       `json:"rating"`
	Feedback      *string   `json:"feedback,omitempty"`
	IsAnonymous   bool      `json:"is_anonymous"`
}

type AppointmentTypeResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	IsVirtual       bool      `json:"is_virtual"`
	ColorCode       *string   `json:"color_code,omitempty"`
}

type NotificationResponse struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Reference map[string]any `json:"reference_data,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

func toNotificationResponses(ns []notify.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(ns))
	for _, n := range ns {
		out = append(out, NotificationResponse{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Reference: n.Reference,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}
