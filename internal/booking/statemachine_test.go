package booking

import (
	"errors"
	"testing"
)

func TestCheckTransitionNonAdmin(t *testing.T) {
	cases := []struct {
		name    string
		current AppointmentStatus
		next    AppointmentStatus
		wantErr bool
	}{
		{"scheduled to confirmed", StatusScheduled, StatusConfirmed, false},
		{"scheduled to cancelled", StatusScheduled, StatusCancelled, false},
		{"scheduled to completed", StatusScheduled, StatusCompleted, false},
		{"confirmed to completed", StatusConfirmed, StatusCompleted, false},
		{"confirmed to cancelled", StatusConfirmed, StatusCancelled, false},
		{"pending to scheduled", StatusPending, StatusScheduled, false},

		{"completed to scheduled", StatusCompleted, StatusScheduled, true},
		{"completed to cancelled", StatusCompleted, StatusCancelled, true},
		{"completed to confirmed", StatusCompleted, StatusConfirmed, true},
		{"completed to completed", StatusCompleted, StatusCompleted, false},

		{"cancelled to scheduled", StatusCancelled, StatusScheduled, false},
		{"cancelled to cancelled", StatusCancelled, StatusCancelled, false},
		{"cancelled to confirmed", StatusCancelled, StatusConfirmed, true},
		{"cancelled to completed", StatusCancelled, StatusCompleted, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTransition(tc.current, tc.next, false)
			if tc.wantErr {
				if !errors.Is(err, ErrTerminalState) {
					t.Fatalf("error = %v, want ErrTerminalState", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckTransitionAdminOverridesTerminal(t *testing.T) {
	statuses := []AppointmentStatus{
		StatusScheduled, StatusConfirmed, StatusPending, StatusCancelled, StatusCompleted,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if err := CheckTransition(from, to, true); err != nil {
				t.Fatalf("admin %s -> %s: unexpected error: %v", from, to, err)
			}
		}
	}
}
