package booking

import "errors"

// Sentinel errors form the engine's taxonomy. The API layer maps them to
// transport codes with errors.Is; the engine itself is transport-agnostic.
var (
	// Not found
	ErrUserNotFound         = errors.New("user not found")
	ErrAvailabilityNotFound = errors.New("availability not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrTypeNotFound         = errors.New("appointment type not found")

	// Validation
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidStatus   = errors.New("invalid appointment status")
	ErrInvalidWindow   = errors.New("end time must be after start time")
	ErrInvalidDuration = errors.New("invalid slot duration")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")

	// Conflict
	ErrSlotUnavailable      = errors.New("slot has no remaining capacity")
	ErrProfessionalMismatch = errors.New("slot belongs to a different professional")
	ErrAlreadyCancelled     = errors.New("appointment is already cancelled")
	ErrDuplicateRating      = errors.New("appointment already rated by this user")
	ErrStatusConflict       = errors.New("appointment status changed concurrently")

	// Authorization
	ErrNotAuthorized = errors.New("not authorized for this appointment")
	ErrTerminalState = errors.New("status cannot be changed from a terminal state")
)
