package scheduling

import "fmt"

// allowedTransitions is the single source of truth for the appointment
// lifecycle. Every mutator goes through ValidateTransition; there are no
// ad hoc status checks anywhere else.
var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
}

var terminalStatuses = map[AppointmentStatus]struct{}{
	StatusCompleted: {},
	StatusCancelled: {},
	StatusNoShow:    {},
}

// IsTerminal reports whether no further transition is permitted from s.
func IsTerminal(s AppointmentStatus) bool {
	_, ok := terminalStatuses[s]
	return ok
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition (wrapped with both states)
// unless from -> to is allowed.
func ValidateTransition(from, to AppointmentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}
