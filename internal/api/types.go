package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	SlotID    string `json:"slot_id"`
	Reason    string `json:"reason"`
	Staff     bool   `json:"staff,omitempty"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type SlotInput struct {
	DoctorID    string    `json:"doctor_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	MaxPatients int       `json:"max_patients"`
}

type CreateSlotsRequest struct {
	Slots []SlotInput `json:"slots"`
}

type SlotActiveRequest struct {
	Active bool `json:"active"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	SlotID      uuid.UUID `json:"slot_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		SlotID:      a.SlotID,
		ScheduledAt: a.ScheduledAt,
		Reason:      a.Reason,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	MaxPatients int       `json:"max_patients"`
	BookedCount int       `json:"booked_count"`
	Remaining   int       `json:"remaining"`
	IsActive    bool      `json:"is_active"`
}

func toSlotResponse(s *scheduling.Timeslot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		MaxPatients: s.MaxPatients,
		BookedCount: s.BookedCount,
		Remaining:   s.Remaining(),
		IsActive:    s.IsActive,
	}
}

type SweepResponse struct {
	Transitioned int `json:"transitioned"`
}

type RecountResponse struct {
	SlotID      uuid.UUID `json:"slot_id"`
	BookedCount int       `json:"booked_count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
