package scheduling

import (
	"errors"
	"fmt"
)

// ErrSlotUnavailable is the umbrella for every reason a slot cannot take a
// new reservation. The three concrete causes wrap it so callers can match
// either the umbrella or the specific reason; the UI needs the distinction
// to decide whether to offer an alternate slot.
var (
	ErrSlotUnavailable = errors.New("slot unavailable")

	ErrSlotNotFound = fmt.Errorf("slot not found: %w", ErrSlotUnavailable)
	ErrSlotInactive = fmt.Errorf("slot is inactive: %w", ErrSlotUnavailable)
	ErrSlotInPast   = fmt.Errorf("slot is in the past: %w", ErrSlotUnavailable)

	ErrCapacityExceeded    = errors.New("slot is fully booked")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrTransientConflict   = errors.New("concurrent update conflict")
)
