package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReserveParams carries everything ReserveSlot needs to book a slot and
// create the appointment as one atomic unit.
type ReserveParams struct {
	SlotID         uuid.UUID
	RequesterID    uuid.UUID
	ProfessionalID uuid.UUID
	TypeID         uuid.UUID
	Status         AppointmentStatus
	Metadata       map[string]any
}

// TransitionParams drives one atomic status transition: a compare-and-set
// on the current status plus the ledger row, and for cancellations the
// cancellation record and the slot capacity restore.
type TransitionParams struct {
	AppointmentID uuid.UUID
	From          AppointmentStatus
	To            AppointmentStatus
	ChangedBy     uuid.UUID
	Change        ChangeType
	Source        ChangeSource
	Notes         *string
	Previous      StateSnapshot
	Next          StateSnapshot
	SlotID        uuid.UUID
}

// AppointmentFilter narrows ListAppointments. A nil Role matches the user
// on either side of the appointment.
type AppointmentFilter struct {
	UserID uuid.UUID
	Role   *Role
	Status *AppointmentStatus
	From   *time.Time
	To     *time.Time
}

// Repository contains all store interactions needed by the engine. Each
// state-changing method is one transaction: either every write lands or
// none do.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	GetAppointmentTypeByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
	ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error)

	CreateAvailability(ctx context.Context, av *Availability) error
	GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	ListAvailability(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Availability, error)

	InsertSlots(ctx context.Context, slots []Slot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListAvailableSlots(ctx context.Context, professionalID *uuid.UUID, from, to time.Time) ([]Slot, error)

	// ReserveSlot performs the capacity check, the booking increment, the
	// appointment insert and the first history row in one transaction.
	// Returns ErrSlotUnavailable when capacity is exhausted, even under
	// concurrent contention.
	ReserveSlot(ctx context.Context, p ReserveParams) (*Appointment, error)

	// TransitionAppointment applies a validated status change. The update is
	// conditional on the status still being p.From; ErrStatusConflict is
	// returned when a concurrent transition won.
	TransitionAppointment(ctx context.Context, p TransitionParams) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// History reads, newest first.
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error)
	GetCancellation(ctx context.Context, appointmentID uuid.UUID) (*Cancellation, error)

	CreateRating(ctx context.Context, r *Rating) error
	CreateCommunication(ctx context.Context, c *Communication) error
	ListCommunications(ctx context.Context, appointmentID uuid.UUID) ([]Communication, error)
}
