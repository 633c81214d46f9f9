package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PartitionWindow cuts [start, end) into contiguous slots of exactly
// duration each. A trailing remainder shorter than one full duration is
// dropped. All times keep the window's location.
//
// Partitioning is not idempotent at the store level: generating twice for
// the same availability produces duplicate slots, so callers generate
// exactly once per availability.
func PartitionWindow(av *Availability, duration time.Duration, maxBookings int) ([]Slot, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}
	window := av.EndTime.Sub(av.StartTime)
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if duration > window {
		return nil, fmt.Errorf("%w: %s exceeds window of %s", ErrInvalidDuration, duration, window)
	}
	if maxBookings < 1 {
		maxBookings = 1
	}

	var slots []Slot
	now := time.Now().UTC()
	for t := av.StartTime; !t.Add(duration).After(av.EndTime); t = t.Add(duration) {
		slots = append(slots, Slot{
			ID:              uuid.New(),
			AvailabilityID:  av.ID,
			ProfessionalID:  av.ProfessionalID,
			StartTime:       t,
			EndTime:         t.Add(duration),
			IsAvailable:     true,
			MaxBookings:     maxBookings,
			CurrentBookings: 0,
			CreatedAt:       now,
		})
	}
	return slots, nil
}
