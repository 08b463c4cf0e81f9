package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store contains all persistence needed by the engine. PgStore is the
// production implementation; MemoryStore backs the unit tests.
type Store interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*Timeslot, error)
	CreateSlots(ctx context.Context, slots []Timeslot) error
	SetSlotActive(ctx context.Context, id uuid.UUID, active bool) (*Timeslot, error)
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Timeslot, error)

	// ReserveSlot atomically increments booked_count iff the slot is active,
	// not full, and starts after now. The specific refusal reason is returned
	// as one of the ErrSlot* / ErrCapacityExceeded sentinels.
	ReserveSlot(ctx context.Context, id uuid.UUID, now time.Time) error
	// ReleaseSlot atomically decrements booked_count, floored at zero.
	ReleaseSlot(ctx context.Context, id uuid.UUID) error
	// RecountSlot recomputes booked_count from the appointment table and
	// writes it back. Idempotent. Every status except CANCELLED still holds
	// its reservation: cancellation is the only release path.
	RecountSlot(ctx context.Context, id uuid.UUID) (int, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	// UpdateAppointmentStatus is a compare-and-swap: the write applies only
	// if the row's status still equals from. A row that exists but has moved
	// on returns ErrTransientConflict.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// MoveAppointmentSlot rebinds the appointment to a new slot, refreshing
	// doctor and scheduled time from it. The rebind applies only while the
	// row is still PENDING or CONFIRMED; a row that has moved on returns
	// ErrTransientConflict. Capacity is the caller's problem.
	MoveAppointmentSlot(ctx context.Context, id uuid.UUID, slot *Timeslot) (*Appointment, error)
	ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error)
	// FindNoShowCandidates returns PENDING/CONFIRMED appointments scheduled
	// at or before cutoff, oldest first, capped at limit.
	FindNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
}
