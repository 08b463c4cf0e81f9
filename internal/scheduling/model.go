package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCheckedIn AppointmentStatus = "CHECKED_IN"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
)

// Timeslot is a bookable unit of a doctor's calendar with finite capacity.
// BookedCount is mutated only through the capacity guard; it counts
// reservations, not attendance, so NO_SHOW appointments keep their unit.
type Timeslot struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	MaxPatients int
	BookedCount int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Remaining reports how many units are still reservable.
func (s *Timeslot) Remaining() int {
	n := s.MaxPatients - s.BookedCount
	if n < 0 {
		return 0
	}
	return n
}

// Appointment is one reserved unit on a timeslot. ScheduledAt mirrors the
// slot's start time so the no-show sweep can select rows without a join.
type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	SlotID      uuid.UUID
	ScheduledAt time.Time
	Reason      string
	Status      AppointmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Domain event names handed to the notification dispatcher.
const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCheckedIn   = "APPOINTMENT_CHECKED_IN"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
)
