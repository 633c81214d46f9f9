package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusPending   AppointmentStatus = "pending"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// ParseStatus rejects anything outside the closed status set so that the
// rest of the engine never sees a free-form string.
func ParseStatus(s string) (AppointmentStatus, error) {
	switch AppointmentStatus(s) {
	case StatusScheduled, StatusConfirmed, StatusPending, StatusCancelled, StatusCompleted:
		return AppointmentStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

type RecurrencePattern string

const (
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
	RecurrenceCustom  RecurrencePattern = "custom"
)

func ParseRecurrence(s string) (RecurrencePattern, error) {
	switch RecurrencePattern(s) {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceCustom:
		return RecurrencePattern(s), nil
	}
	return "", fmt.Errorf("%w: recurrence pattern %q", ErrInvalidInput, s)
}

type ChangeType string

const (
	ChangeStatus       ChangeType = "status_change"
	ChangeReschedule   ChangeType = "reschedule"
	ChangeCancellation ChangeType = "cancellation"
	ChangeMetadata     ChangeType = "metadata_update"
)

type ChangeSource string

const (
	SourceUser   ChangeSource = "user"
	SourceAdmin  ChangeSource = "admin"
	SourceSystem ChangeSource = "system"
)

type Role string

const (
	RoleRequester    Role = "requester"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRequester, RoleProfessional, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: role %q", ErrInvalidInput, s)
}

// Actor is the authenticated identity supplied by the credential service at
// the boundary. The engine trusts the identity but re-validates ownership
// and state-machine rules itself.
type Actor struct {
	ID    uuid.UUID
	Roles []Role
}

func (a Actor) Is(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.Is(RoleAdmin) }

func (a Actor) ChangeSource() ChangeSource {
	if a.IsAdmin() {
		return SourceAdmin
	}
	return SourceUser
}

type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
}

type AppointmentType struct {
	ID              uuid.UUID
	Name            string
	Description     *string
	DurationMinutes int
	IsVirtual       bool
	ColorCode       *string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Availability is a professional-declared window eligible for slot
// generation. Recurrence is declarative metadata only; no expansion happens
// here.
type Availability struct {
	ID                uuid.UUID
	ProfessionalID    uuid.UUID
	StartTime         time.Time
	EndTime           time.Time
	IsRecurring       bool
	RecurrencePattern *RecurrencePattern
	DurationMinutes   int
	Type              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Slot is one discrete bookable unit carved out of an Availability window.
// IsAvailable is a cached flag and must always equal
// CurrentBookings < MaxBookings.
type Slot struct {
	ID              uuid.UUID
	AvailabilityID  uuid.UUID
	ProfessionalID  uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	IsAvailable     bool
	MaxBookings     int
	CurrentBookings int
	CreatedAt       time.Time
}

type Appointment struct {
	ID             uuid.UUID
	RequesterID    uuid.UUID
	ProfessionalID uuid.UUID
	SlotID         uuid.UUID
	TypeID         uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Status         AppointmentStatus
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Participant reports whether the given user is one of the two parties on
// the appointment.
func (a *Appointment) Participant(userID uuid.UUID) bool {
	return a.RequesterID == userID || a.ProfessionalID == userID
}

// StateSnapshot is what gets frozen into the history ledger on every
// transition.
type StateSnapshot struct {
	Status    AppointmentStatus `json:"status"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
}

func snapshotOf(a *Appointment) StateSnapshot {
	return StateSnapshot{Status: a.Status, StartTime: a.StartTime, EndTime: a.EndTime}
}

// History is one append-only ledger entry. PreviousState is nil only for
// the row written when the appointment is first created.
type History struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	ChangedBy     *uuid.UUID
	PreviousState *StateSnapshot
	NewState      StateSnapshot
	ChangeType    ChangeType
	ChangeSource  ChangeSource
	CreatedAt     time.Time
}

// Cancellation is one-to-one with a cancelled appointment; the unique
// appointment_id constraint is what makes a second cancellation attempt
// fail instead of duplicating.
type Cancellation struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	CancelledBy   *uuid.UUID
	Reason        *string
	NotifiedUsers []uuid.UUID
	IsNotified    bool
	CreatedAt     time.Time
}

type Rating struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	RatedBy       uuid.UUID
	Rating        int
	Feedback      *string
	IsAnonymous   bool
	CreatedAt     time.Time
}

type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityAdminOnly Visibility = "admin_only"
)

func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case VisibilityPublic, VisibilityPrivate, VisibilityAdminOnly:
		return Visibility(s), nil
	}
	return "", fmt.Errorf("%w: visibility %q", ErrInvalidInput, s)
}

// Communication is a message exchanged between the two parties of an
// appointment.
type Communication struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	SenderID       uuid.UUID
	RecipientID    uuid.UUID
	MessageType    string
	Content        string
	AttachmentURLs []string
	IsRead         bool
	ReadAt         *time.Time
	Visibility     Visibility
	CreatedAt      time.Time
}

// AppointmentDetail is the fully hydrated read model returned by
// GetAppointment: the record plus its ledger and message trail.
type AppointmentDetail struct {
	Appointment
	History        []History
	Communications []Communication
}

// Event is what the engine hands to the notification sink. Dispatch is
// fire-and-forget; a failed dispatch never unwinds a committed transaction.
type Event struct {
	UserID    uuid.UUID
	Type      string
	Title     string
	Message   string
	Reference map[string]any
	Context   map[string]any
	Channel   string
}

// Notifier is the external notification sink.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}
