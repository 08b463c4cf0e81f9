// Seed fills a dev database with fake doctors, patients, and a week of
// timeslots. It stands in for the schedule-generation collaborator: the
// engine only ever consumes finished slots.
package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/scheduling-engine/internal/db"
	"github.com/clinicops/scheduling-engine/internal/logging"
	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

const (
	doctorCount   = 25
	patientCount  = 2000
	scheduleDays  = 7
	slotsPerDay   = 16 // 8:00-16:00, 30 minute slots
	slotCapacity  = 3
	slotMinutes   = 30
	scheduleStart = 8 // hour of day
)

func main() {
	log := logging.New("seed", "dev")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, doctorCount)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	log.Info().Int("count", len(doctorIDs)).Msg("seeded doctors")

	if err := seedPatients(context.Background(), pool, patientCount); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	log.Info().Int("count", patientCount).Msg("seeded patients")

	store := scheduling.NewPgStore(pool)
	total, err := seedSlots(context.Background(), store, doctorIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}
	log.Info().Int("count", total).Msg("seeded timeslots")

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedSlots(ctx context.Context, store *scheduling.PgStore, doctorIDs []uuid.UUID) (int, error) {
	day := time.Now().Truncate(24 * time.Hour).AddDate(0, 0, 1)

	total := 0
	for d := 0; d < scheduleDays; d++ {
		var slots []scheduling.Timeslot
		for _, doctorID := range doctorIDs {
			start := day.AddDate(0, 0, d).Add(scheduleStart * time.Hour)
			for i := 0; i < slotsPerDay; i++ {
				slots = append(slots, scheduling.Timeslot{
					DoctorID:    doctorID,
					StartTime:   start,
					EndTime:     start.Add(slotMinutes * time.Minute),
					MaxPatients: slotCapacity,
				})
				start = start.Add(slotMinutes * time.Minute)
			}
		}
		if err := store.CreateSlots(ctx, slots); err != nil {
			return total, err
		}
		total += len(slots)
	}
	return total, nil
}
