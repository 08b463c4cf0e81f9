package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanSlot(row pgx.Row) (*Timeslot, error) {
	var s Timeslot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.MaxPatients,
		&s.BookedCount,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.ScheduledAt,
		&a.Reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const slotColumns = `id, doctor_id, start_time, end_time, max_patients, booked_count, is_active, created_at, updated_at`
const apptColumns = `id, patient_id, doctor_id, slot_id, scheduled_at, reason, status, created_at, updated_at`

// Slots

func (s *PgStore) GetSlot(ctx context.Context, id uuid.UUID) (*Timeslot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM timeslots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *PgStore) CreateSlots(ctx context.Context, slots []Timeslot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create slots: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, slot := range slots {
		id := slot.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO timeslots (id, doctor_id, start_time, end_time, max_patients, booked_count, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, true, now(), now())
		`, id, slot.DoctorID, slot.StartTime, slot.EndTime, slot.MaxPatients)
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) SetSlotActive(ctx context.Context, id uuid.UUID, active bool) (*Timeslot, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE timeslots
		SET is_active = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, id, active)
	return scanSlot(row)
}

func (s *PgStore) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Timeslot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM timeslots
		WHERE doctor_id = $1
		  AND is_active
		  AND booked_count < max_patients
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Timeslot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}

	return result, rows.Err()
}

// ReserveSlot is the engine's one hot write. The conditional UPDATE is a
// single atomic read-modify-write; the row lock it takes serializes
// concurrent reserves on the same slot and leaves other slots untouched.
// When no row matched, a follow-up read classifies the refusal.
func (s *PgStore) ReserveSlot(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE timeslots
		SET booked_count = booked_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND is_active
		  AND booked_count < max_patients
		  AND start_time > $2
	`, id, now)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	slot, err := s.GetSlot(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case !slot.IsActive:
		return ErrSlotInactive
	case !slot.StartTime.After(now):
		return ErrSlotInPast
	case slot.BookedCount >= slot.MaxPatients:
		return ErrCapacityExceeded
	default:
		// The slot became reservable between the UPDATE and the read.
		return ErrTransientConflict
	}
}

func (s *PgStore) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE timeslots
		SET booked_count = booked_count - 1,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count > 0
	`, id)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Either the slot is gone or the counter is already at the floor.
	if _, err := s.GetSlot(ctx, id); err != nil {
		return err
	}
	return nil
}

func (s *PgStore) RecountSlot(ctx context.Context, id uuid.UUID) (int, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE timeslots
		SET booked_count = (
			SELECT count(*)
			FROM appointments
			WHERE slot_id = $1
			  AND status <> 'CANCELLED'
		),
		    updated_at = now()
		WHERE id = $1
		RETURNING booked_count
	`, id)

	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrSlotNotFound
		}
		return 0, fmt.Errorf("recount slot: %w", err)
	}
	return count, nil
}

// Appointments

func (s *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, scheduled_at, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+apptColumns+`
	`, id, appt.PatientID, appt.DoctorID, appt.SlotID, appt.ScheduledAt, appt.Reason, appt.Status)

	return scanAppointment(row)
}

func (s *PgStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+apptColumns+`
	`, id, from, to)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// Distinguish a missing row from a lost compare-and-swap.
	if _, getErr := s.GetAppointment(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrTransientConflict
}

// MoveAppointmentSlot is a compare-and-swap like UpdateAppointmentStatus:
// the rebind applies only while the row is still PENDING or CONFIRMED, so a
// transition that lands between the caller's status check and the move makes
// the move miss instead of resurrecting a settled appointment.
func (s *PgStore) MoveAppointmentSlot(ctx context.Context, id uuid.UUID, slot *Timeslot) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    doctor_id = $3,
		    scheduled_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('PENDING', 'CONFIRMED')
		RETURNING `+apptColumns+`
	`, id, slot.ID, slot.DoctorID, slot.StartTime)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// Distinguish a missing row from a lost compare-and-swap.
	if _, getErr := s.GetAppointment(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrTransientConflict
}

func (s *PgStore) ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE slot_id = $1
		ORDER BY created_at
	`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *appt)
	}

	return result, rows.Err()
}

func (s *PgStore) FindNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status IN ('PENDING', 'CONFIRMED')
		  AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *appt)
	}

	return result, rows.Err()
}
