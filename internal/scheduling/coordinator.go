package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/scheduling-engine/internal/audit"
	"github.com/clinicops/scheduling-engine/internal/notify"
)

// transitionAttempts bounds the re-check-before-write loop when a status
// compare-and-swap loses to a concurrent writer.
const transitionAttempts = 3

// Coordinator orchestrates bookings against slot capacity. It is the only
// caller of the capacity guard, and every status move goes through the
// lifecycle table in status.go.
type Coordinator struct {
	store    Store
	guard    CapacityGuard
	notifier notify.Dispatcher
	audit    audit.Recorder
	clock    func() time.Time
	log      zerolog.Logger
}

type CoordinatorConfig struct {
	Store    Store
	Guard    CapacityGuard
	Notifier notify.Dispatcher
	Audit    audit.Recorder
	Clock    func() time.Time
	Logger   zerolog.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Noop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Coordinator{
		store:    cfg.Store,
		guard:    cfg.Guard,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
}

type BookRequest struct {
	PatientID uuid.UUID
	SlotID    uuid.UUID
	Reason    string
	// Staff bookings are made at the front desk on the patient's behalf and
	// start out CONFIRMED instead of PENDING.
	Staff bool
	Actor string
}

// Book reserves one capacity unit and creates the appointment. A guard
// refusal leaves no appointment row; a failed insert returns the unit.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := c.guard.Reserve(ctx, req.SlotID); err != nil {
		return nil, err
	}

	slot, err := c.store.GetSlot(ctx, req.SlotID)
	if err != nil {
		c.compensate(ctx, req.SlotID)
		return nil, fmt.Errorf("load slot after reserve: %w", err)
	}

	status := StatusPending
	if req.Staff {
		status = StatusConfirmed
	}

	created, err := c.store.CreateAppointment(ctx, &Appointment{
		PatientID:   req.PatientID,
		DoctorID:    slot.DoctorID,
		SlotID:      slot.ID,
		ScheduledAt: slot.StartTime,
		Reason:      req.Reason,
		Status:      status,
	})
	if err != nil {
		c.compensate(ctx, req.SlotID)
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	c.emit(ctx, req.Actor, EventAppointmentBooked, created, map[string]any{
		"slot_id":    slot.ID.String(),
		"patient_id": req.PatientID.String(),
		"status":     string(status),
	})
	return created, nil
}

// Confirm moves a pending appointment to CONFIRMED (staff/doctor action).
func (c *Coordinator) Confirm(ctx context.Context, actor string, id uuid.UUID) (*Appointment, error) {
	return c.transition(ctx, actor, id, StatusConfirmed, EventAppointmentConfirmed)
}

// CheckIn marks the patient as arrived.
func (c *Coordinator) CheckIn(ctx context.Context, actor string, id uuid.UUID) (*Appointment, error) {
	return c.transition(ctx, actor, id, StatusCheckedIn, EventAppointmentCheckedIn)
}

// Complete closes out a checked-in visit.
func (c *Coordinator) Complete(ctx context.Context, actor string, id uuid.UUID) (*Appointment, error) {
	return c.transition(ctx, actor, id, StatusCompleted, EventAppointmentCompleted)
}

// Cancel transitions the appointment to CANCELLED and returns its capacity
// unit. If the release fails after the status write, the slot counter is
// repaired by recount rather than rolling the cancellation back.
func (c *Coordinator) Cancel(ctx context.Context, actor string, id uuid.UUID) (*Appointment, error) {
	appt, err := c.transition(ctx, actor, id, StatusCancelled, EventAppointmentCancelled)
	if err != nil {
		return nil, err
	}

	if err := c.guard.Release(ctx, appt.SlotID); err != nil {
		c.log.Error().Err(err).
			Str("appointment_id", appt.ID.String()).
			Str("slot_id", appt.SlotID.String()).
			Msg("release after cancel failed, recounting slot")
		if _, rcErr := c.store.RecountSlot(ctx, appt.SlotID); rcErr != nil {
			c.log.Error().Err(rcErr).
				Str("slot_id", appt.SlotID.String()).
				Msg("slot recount failed, counter needs reconciliation")
		}
	}
	return appt, nil
}

// Reschedule moves an appointment to a new slot: reserve the new slot first,
// and only on success release the old one and rebind the row. A refused
// reservation leaves the appointment exactly where it was. The rebind is a
// compare-and-swap on status, so a transition that lands after the status
// check (a concurrent cancel, a sweep) voids the move; the new-slot unit is
// returned and the fresh status is re-checked before any retry.
func (c *Coordinator) Reschedule(ctx context.Context, actor string, id, newSlotID uuid.UUID) (*Appointment, error) {
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		appt, err := c.store.GetAppointment(ctx, id)
		if err != nil {
			return nil, err
		}
		if appt.Status != StatusPending && appt.Status != StatusConfirmed {
			return nil, fmt.Errorf("reschedule from %s: %w", appt.Status, ErrInvalidTransition)
		}
		if appt.SlotID == newSlotID {
			return appt, nil
		}

		if err := c.guard.Reserve(ctx, newSlotID); err != nil {
			return nil, err
		}

		newSlot, err := c.store.GetSlot(ctx, newSlotID)
		if err != nil {
			c.compensate(ctx, newSlotID)
			return nil, fmt.Errorf("load slot after reserve: %w", err)
		}

		oldSlotID := appt.SlotID
		moved, err := c.store.MoveAppointmentSlot(ctx, id, newSlot)
		if err != nil {
			c.compensate(ctx, newSlotID)
			if errors.Is(err, ErrTransientConflict) {
				continue
			}
			return nil, fmt.Errorf("move appointment: %w", err)
		}

		if err := c.guard.Release(ctx, oldSlotID); err != nil {
			c.log.Error().Err(err).
				Str("appointment_id", id.String()).
				Str("slot_id", oldSlotID.String()).
				Msg("release of old slot failed, recounting")
			if _, rcErr := c.store.RecountSlot(ctx, oldSlotID); rcErr != nil {
				c.log.Error().Err(rcErr).
					Str("slot_id", oldSlotID.String()).
					Msg("slot recount failed, counter needs reconciliation")
			}
		}

		c.emit(ctx, actor, EventAppointmentRescheduled, moved, map[string]any{
			"old_slot_id": oldSlotID.String(),
			"new_slot_id": newSlotID.String(),
		})
		return moved, nil
	}
	return nil, ErrTransientConflict
}

// ListAvailableSlots returns a doctor's active, future, non-full slots in
// [from, to).
func (c *Coordinator) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Timeslot, error) {
	if from.IsZero() {
		from = c.clock()
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 7)
	}
	return c.store.ListAvailableSlots(ctx, doctorID, from, to)
}

func (c *Coordinator) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return c.store.GetAppointment(ctx, id)
}

func (c *Coordinator) GetSlot(ctx context.Context, id uuid.UUID) (*Timeslot, error) {
	return c.store.GetSlot(ctx, id)
}

// AddSlots ingests a batch of generator-produced slots.
func (c *Coordinator) AddSlots(ctx context.Context, slots []Timeslot) error {
	for _, slot := range slots {
		if slot.MaxPatients <= 0 {
			return fmt.Errorf("slot capacity must be positive, got %d", slot.MaxPatients)
		}
		if !slot.EndTime.After(slot.StartTime) {
			return fmt.Errorf("slot end must be after start")
		}
	}
	return c.store.CreateSlots(ctx, slots)
}

// SetSlotActive toggles a slot. Deactivation rejects new bookings but keeps
// existing appointments.
func (c *Coordinator) SetSlotActive(ctx context.Context, actor string, id uuid.UUID, active bool) (*Timeslot, error) {
	slot, err := c.store.SetSlotActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	c.audit.Record(ctx, actor, "SLOT_ACTIVE_TOGGLED", id, map[string]any{"active": active})
	return slot, nil
}

// RecountSlot is the reconciliation safety net: it rebuilds booked_count
// from the appointment table and is safe to re-run any number of times.
func (c *Coordinator) RecountSlot(ctx context.Context, actor string, id uuid.UUID) (int, error) {
	count, err := c.store.RecountSlot(ctx, id)
	if err != nil {
		return 0, err
	}
	c.audit.Record(ctx, actor, "SLOT_RECOUNTED", id, map[string]any{"booked_count": count})
	return count, nil
}

// transition loads, validates against the lifecycle table, and applies a
// compare-and-swap status write. A lost swap re-checks the fresh status
// before retrying, so a later writer never clobbers a state it did not see.
func (c *Coordinator) transition(ctx context.Context, actor string, id uuid.UUID, to AppointmentStatus, event string) (*Appointment, error) {
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		appt, err := c.store.GetAppointment(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := ValidateTransition(appt.Status, to); err != nil {
			return nil, err
		}

		updated, err := c.store.UpdateAppointmentStatus(ctx, id, appt.Status, to)
		if err != nil {
			if errors.Is(err, ErrTransientConflict) {
				continue
			}
			return nil, err
		}

		c.emit(ctx, actor, event, updated, map[string]any{
			"from": string(appt.Status),
			"to":   string(to),
		})
		return updated, nil
	}
	return nil, ErrTransientConflict
}

// compensate returns a reserved unit when the step after a successful
// reserve fails.
func (c *Coordinator) compensate(ctx context.Context, slotID uuid.UUID) {
	if err := c.guard.Release(ctx, slotID); err != nil {
		c.log.Error().Err(err).
			Str("slot_id", slotID.String()).
			Msg("compensating release failed, counter needs reconciliation")
	}
}

func (c *Coordinator) emit(ctx context.Context, actor, event string, appt *Appointment, metadata map[string]any) {
	if actor == "" {
		actor = "system"
	}
	c.notifier.Dispatch(ctx, event, appt.ID)
	c.audit.Record(ctx, actor, event, appt.ID, metadata)
}
