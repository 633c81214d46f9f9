package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appointly/booking-engine/internal/config"
	redisclient "github.com/appointly/booking-engine/internal/redis"
)

const (
	EventAppointmentCreated   = "appointment_created"
	EventAppointmentConfirmed = "appointment_confirmed"
	EventAppointmentCancelled = "appointment_cancelled"
	EventAppointmentCompleted = "appointment_completed"
	EventNewMessage           = "new_message"
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	cfg      config.Config
	log      *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

type CreateAvailabilityInput struct {
	ProfessionalID    uuid.UUID
	StartTime         time.Time
	EndTime           time.Time
	IsRecurring       bool
	RecurrencePattern *RecurrencePattern
	DurationMinutes   int
	Type              string
	GenerateSlots     bool
	SlotMinutes       int
}

// CreateAvailability records a bookable window for a professional and,
// when asked, carves it into slots in the same call.
func (s *Service) CreateAvailability(ctx context.Context, actor Actor, in CreateAvailabilityInput) (*Availability, []Slot, error) {
	if actor.ID != in.ProfessionalID && !actor.IsAdmin() {
		return nil, nil, ErrNotAuthorized
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, nil, ErrInvalidWindow
	}
	if _, err := s.repo.GetUserByID(ctx, in.ProfessionalID); err != nil {
		return nil, nil, fmt.Errorf("load professional: %w", err)
	}

	duration := in.DurationMinutes
	if duration <= 0 {
		duration = int(in.EndTime.Sub(in.StartTime).Minutes())
	}
	avType := in.Type
	if avType == "" {
		avType = "regular"
	}

	av := &Availability{
		ID:                uuid.New(),
		ProfessionalID:    in.ProfessionalID,
		StartTime:         in.StartTime,
		EndTime:           in.EndTime,
		IsRecurring:       in.IsRecurring,
		RecurrencePattern: in.RecurrencePattern,
		DurationMinutes:   duration,
		Type:              avType,
	}

	if err := s.repo.CreateAvailability(ctx, av); err != nil {
		return nil, nil, fmt.Errorf("create availability: %w", err)
	}

	if !in.GenerateSlots {
		return av, nil, nil
	}

	slotMinutes := in.SlotMinutes
	if slotMinutes <= 0 {
		slotMinutes = s.cfg.DefaultSlotMinutes
	}

	slots, err := s.GenerateSlots(ctx, av.ID, slotMinutes)
	if err != nil {
		return nil, nil, err
	}
	return av, slots, nil
}

// GenerateSlots partitions an availability window into bookable slots.
// Generation is not idempotent; callers generate exactly once per
// availability.
func (s *Service) GenerateSlots(ctx context.Context, availabilityID uuid.UUID, slotMinutes int) ([]Slot, error) {
	av, err := s.repo.GetAvailabilityByID(ctx, availabilityID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}

	slots, err := PartitionWindow(av, time.Duration(slotMinutes)*time.Minute, s.cfg.DefaultSlotCapacity)
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertSlots(ctx, slots); err != nil {
		return nil, fmt.Errorf("persist slots: %w", err)
	}

	s.log.Info("slots generated",
		zap.String("availability_id", availabilityID.String()),
		zap.Int("count", len(slots)))
	return slots, nil
}

// dateWindow fills in the default lookup range: from now, ahead by the
// configured lookahead.
func (s *Service) dateWindow(from, to *time.Time) (time.Time, time.Time) {
	start := time.Now()
	if from != nil {
		start = *from
	}
	end := start.AddDate(0, 0, s.cfg.LookaheadDays)
	if to != nil {
		end = *to
	}
	return start, end
}

func (s *Service) ListAvailability(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) ([]Availability, error) {
	start, end := s.dateWindow(from, to)
	avs, err := s.repo.ListAvailability(ctx, professionalID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return avs, nil
}

func (s *Service) ListAvailableSlots(ctx context.Context, professionalID *uuid.UUID, from, to *time.Time) ([]Slot, error) {
	start, end := s.dateWindow(from, to)
	slots, err := s.repo.ListAvailableSlots(ctx, professionalID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

func (s *Service) ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error) {
	return s.repo.ListAppointmentTypes(ctx)
}

type CreateAppointmentInput struct {
	RequesterID    uuid.UUID
	ProfessionalID uuid.UUID
	SlotID         uuid.UUID
	TypeID         uuid.UUID
	Status         AppointmentStatus
	Metadata       map[string]any
}

// CreateAppointment reserves a slot for a requester. A per-slot Redis lock
// sheds most concurrent contention up front; the store's conditional
// capacity update is what actually guarantees a slot is never overbooked.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*Appointment, error) {
	if _, err := s.repo.GetUserByID(ctx, in.RequesterID); err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}

	slot, err := s.repo.GetSlotByID(ctx, in.SlotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.ProfessionalID != in.ProfessionalID {
		return nil, ErrProfessionalMismatch
	}
	if !slot.IsAvailable {
		return nil, ErrSlotUnavailable
	}

	if _, err := s.repo.GetAppointmentTypeByID(ctx, in.TypeID); err != nil {
		return nil, fmt.Errorf("load appointment type: %w", err)
	}

	status := in.Status
	if status == "" {
		status = StatusScheduled
	} else if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	params := ReserveParams{
		SlotID:         in.SlotID,
		RequesterID:    in.RequesterID,
		ProfessionalID: in.ProfessionalID,
		TypeID:         in.TypeID,
		Status:         status,
		Metadata:       in.Metadata,
	}

	var appt *Appointment
	err = s.locker.WithSlotLock(ctx, in.SlotID, func(lockCtx context.Context) error {
		var reserveErr error
		appt, reserveErr = s.repo.ReserveSlot(lockCtx, params)
		return reserveErr
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		// Contention on the lock itself. The conditional update decides who
		// actually gets the capacity.
		appt, err = s.repo.ReserveSlot(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{
		UserID:    appt.ProfessionalID,
		Type:      EventAppointmentCreated,
		Title:     "New Appointment Scheduled",
		Message:   fmt.Sprintf("A new appointment has been scheduled for %s", appt.StartTime.Format(time.RFC3339)),
		Reference: map[string]any{"appointment_id": appt.ID.String()},
		Channel:   "email",
	})
	s.emit(ctx, Event{
		UserID:    appt.RequesterID,
		Type:      EventAppointmentCreated,
		Title:     "Appointment Scheduled",
		Message:   fmt.Sprintf("Your appointment has been scheduled for %s", appt.StartTime.Format(time.RFC3339)),
		Reference: map[string]any{"appointment_id": appt.ID.String()},
		Channel:   "email",
	})

	return appt, nil
}

// UpdateAppointmentStatus drives one transition through the state machine.
// Authorization (participant or admin) and state-machine legality are
// independent gates; both must pass.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, actor Actor, id uuid.UUID, newStatus AppointmentStatus, notes *string) (*Appointment, error) {
	if _, err := ParseStatus(string(newStatus)); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !appt.Participant(actor.ID) && !actor.IsAdmin() {
		return nil, ErrNotAuthorized
	}
	if err := CheckTransition(appt.Status, newStatus, actor.IsAdmin()); err != nil {
		return nil, err
	}

	change := ChangeStatus
	if newStatus == StatusCancelled {
		change = ChangeCancellation
	}

	previous := snapshotOf(appt)
	next := previous
	next.Status = newStatus

	updated, err := s.repo.TransitionAppointment(ctx, TransitionParams{
		AppointmentID: id,
		From:          appt.Status,
		To:            newStatus,
		ChangedBy:     actor.ID,
		Change:        change,
		Source:        actor.ChangeSource(),
		Notes:         notes,
		Previous:      previous,
		Next:          next,
		SlotID:        appt.SlotID,
	})
	if err != nil {
		return nil, err
	}

	s.emitTransitionEvents(ctx, actor, updated)
	return updated, nil
}

// emitTransitionEvents maps the new status onto notification events. The
// transaction has already committed; dispatch problems are logged only.
func (s *Service) emitTransitionEvents(ctx context.Context, actor Actor, appt *Appointment) {
	ref := map[string]any{"appointment_id": appt.ID.String()}
	when := appt.StartTime.Format(time.RFC3339)

	switch appt.Status {
	case StatusCancelled:
		recipient := appt.ProfessionalID
		if actor.ID == appt.ProfessionalID {
			recipient = appt.RequesterID
		}
		s.emit(ctx, Event{
			UserID:    recipient,
			Type:      EventAppointmentCancelled,
			Title:     "Appointment Cancelled",
			Message:   fmt.Sprintf("Your appointment for %s has been cancelled", when),
			Reference: ref,
			Channel:   "email",
		})
	case StatusConfirmed:
		for _, userID := range []uuid.UUID{appt.RequesterID, appt.ProfessionalID} {
			s.emit(ctx, Event{
				UserID:    userID,
				Type:      EventAppointmentConfirmed,
				Title:     "Appointment Confirmed",
				Message:   fmt.Sprintf("Your appointment for %s has been confirmed", when),
				Reference: ref,
				Channel:   "email",
			})
		}
	case StatusCompleted:
		s.emit(ctx, Event{
			UserID:    appt.RequesterID,
			Type:      EventAppointmentCompleted,
			Title:     "Appointment Completed - Please Rate Your Experience",
			Message:   "Your appointment has been completed. Please take a moment to rate your experience.",
			Reference: ref,
			Channel:   "email",
		})
	}
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("notification dispatch failed",
			zap.String("event_type", ev.Type),
			zap.String("user_id", ev.UserID.String()),
			zap.Error(err))
	}
}

// GetAppointment returns the appointment hydrated with its history ledger
// and communication trail.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Participant(actor.ID) && !actor.IsAdmin() {
		return nil, ErrNotAuthorized
	}

	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	comms, err := s.repo.ListCommunications(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load communications: %w", err)
	}

	return &AppointmentDetail{
		Appointment:    *appt,
		History:        history,
		Communications: comms,
	}, nil
}

type ListAppointmentsInput struct {
	UserID uuid.UUID
	Role   *Role
	Status *AppointmentStatus
	From   *time.Time
	To     *time.Time
}

func (s *Service) ListAppointments(ctx context.Context, in ListAppointmentsInput) ([]Appointment, error) {
	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter(in))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// History returns the transition ledger for an appointment, newest first.
func (s *Service) History(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	if _, err := s.repo.GetAppointmentByID(ctx, appointmentID); err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return s.repo.ListHistory(ctx, appointmentID)
}

type RateAppointmentInput struct {
	AppointmentID uuid.UUID
	Rating        int
	Feedback      *string
	IsAnonymous   bool
}

// RateAppointment records one rating per (appointment, user). Only a
// participant can rate, and only after completion.
func (s *Service) RateAppointment(ctx context.Context, actor Actor, in RateAppointmentInput) (*Rating, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, ErrInvalidRating
	}

	appt, err := s.repo.GetAppointmentByID(ctx, in.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Participant(actor.ID) {
		return nil, ErrNotAuthorized
	}
	if appt.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: only completed appointments can be rated", ErrInvalidInput)
	}

	rating := &Rating{
		ID:            uuid.New(),
		AppointmentID: in.AppointmentID,
		RatedBy:       actor.ID,
		Rating:        in.Rating,
		Feedback:      in.Feedback,
		IsAnonymous:   in.IsAnonymous,
	}
	if err := s.repo.CreateRating(ctx, rating); err != nil {
		return nil, err
	}
	return rating, nil
}

type AddCommunicationInput struct {
	AppointmentID  uuid.UUID
	RecipientID    uuid.UUID
	MessageType    string
	Content        string
	AttachmentURLs []string
	Visibility     Visibility
}

// AddCommunication attaches a message between the two parties of an
// appointment and notifies the recipient.
func (s *Service) AddCommunication(ctx context.Context, actor Actor, in AddCommunicationInput) (*Communication, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, in.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Participant(actor.ID) && !actor.IsAdmin() {
		return nil, ErrNotAuthorized
	}
	if !appt.Participant(in.RecipientID) {
		return nil, fmt.Errorf("%w: recipient is not related to this appointment", ErrInvalidInput)
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	} else if _, err := ParseVisibility(string(visibility)); err != nil {
		return nil, err
	}

	comm := &Communication{
		ID:             uuid.New(),
		AppointmentID:  in.AppointmentID,
		SenderID:       actor.ID,
		RecipientID:    in.RecipientID,
		MessageType:    in.MessageType,
		Content:        in.Content,
		AttachmentURLs: in.AttachmentURLs,
		Visibility:     visibility,
	}
	if err := s.repo.CreateCommunication(ctx, comm); err != nil {
		return nil, err
	}

	s.emit(ctx, Event{
		UserID:  in.RecipientID,
		Type:    EventNewMessage,
		Title:   "New message",
		Message: "You received a new message regarding your appointment.",
		Reference: map[string]any{
			"appointment_id":   in.AppointmentID.String(),
			"communication_id": comm.ID.String(),
		},
		Channel: "email",
	})

	return comm, nil
}
