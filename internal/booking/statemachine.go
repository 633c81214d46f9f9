package booking

import "fmt"

// CheckTransition enforces the status state machine, independent of any
// ownership or role checks done elsewhere. Both gates must pass before a
// transition is applied.
//
// completed and cancelled are soft-terminal: ordinary actors cannot leave
// them (cancelled may still go back to scheduled), admins may transition
// freely.
func CheckTransition(current, next AppointmentStatus, admin bool) error {
	if admin {
		return nil
	}
	switch current {
	case StatusCompleted:
		if next != StatusCompleted {
			return fmt.Errorf("%w: completed -> %s", ErrTerminalState, next)
		}
	case StatusCancelled:
		if next != StatusCancelled && next != StatusScheduled {
			return fmt.Errorf("%w: cancelled -> %s", ErrTerminalState, next)
		}
	}
	return nil
}
