package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(env *testEnv, store Store) *Sweeper {
	return NewSweeper(SweeperConfig{
		Store:  store,
		Clock:  env.clock.Now,
		Grace:  2 * time.Hour,
		Logger: zerolog.Nop(),
	})
}

func TestSweepTemporalGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := newTestSweeper(env, env.store)

	slotID := env.addSlot(t, uuid.New(), time.Hour, 1)
	appt, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID})
	require.NoError(t, err)

	// 1h59m past the scheduled time: still inside the grace period.
	env.clock.Advance(time.Hour + time.Hour + 59*time.Minute)
	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	current, err := env.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, current.Status)

	// 2h01m past: eligible.
	env.clock.Advance(2 * time.Minute)
	n, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	current, err = env.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, current.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := newTestSweeper(env, env.store)

	slotID := env.addSlot(t, uuid.New(), time.Hour, 3)
	for i := 0; i < 3; i++ {
		staff := i%2 == 0 // mix of PENDING and CONFIRMED rows
		_, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID, Staff: staff})
		require.NoError(t, err)
	}

	env.clock.Advance(4 * time.Hour)

	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepDoesNotReleaseCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := newTestSweeper(env, env.store)

	slotID := env.addSlot(t, uuid.New(), time.Hour, 2)
	_, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID})
	require.NoError(t, err)
	require.Equal(t, 1, env.slot(t, slotID).BookedCount)

	env.clock.Advance(4 * time.Hour)
	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A no-show keeps its reservation; recount agrees.
	assert.Equal(t, 1, env.slot(t, slotID).BookedCount)
	count, err := env.store.RecountSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweepIgnoresTerminalAndCheckedInRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := newTestSweeper(env, env.store)

	slotID := env.addSlot(t, uuid.New(), time.Hour, 3)

	checkedIn, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID})
	require.NoError(t, err)
	_, err = env.coord.CheckIn(ctx, "frontdesk", checkedIn.ID)
	require.NoError(t, err)

	cancelled, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID})
	require.NoError(t, err)
	_, err = env.coord.Cancel(ctx, "patient", cancelled.ID)
	require.NoError(t, err)

	stale, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID})
	require.NoError(t, err)

	env.clock.Advance(4 * time.Hour)
	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	current, err := env.store.GetAppointment(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, current.Status)
}

// conflictingStore makes the status CAS fail for one appointment, as if a
// concurrent writer had moved it between selection and update.
type conflictingStore struct {
	Store
	victim uuid.UUID
}

func (s *conflictingStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if id == s.victim {
		return nil, ErrTransientConflict
	}
	return s.Store.UpdateAppointmentStatus(ctx, id, from, to)
}

func TestSweepSkipsFailedRowsWithoutAbortingBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slotID := env.addSlot(t, uuid.New(), time.Hour, 3)
	var victim uuid.UUID
	for i := 0; i < 3; i++ {
		appt, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID})
		require.NoError(t, err)
		if i == 1 {
			victim = appt.ID
		}
	}

	sweeper := newTestSweeper(env, &conflictingStore{Store: env.store, victim: victim})
	env.clock.Advance(4 * time.Hour)

	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	current, err := env.store.GetAppointment(ctx, victim)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, current.Status)
}

// heldLocker refuses every acquisition, as if another sweeper instance held
// the lock.
type heldLocker struct{}

func (heldLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return ErrLockHeld
}

func TestSweepSkipsPassWhenLockHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slotID := env.addSlot(t, uuid.New(), time.Hour, 1)
	appt, err := env.coord.Book(ctx, BookRequest{PatientID: uuid.New(), SlotID: slotID})
	require.NoError(t, err)

	sweeper := NewSweeper(SweeperConfig{
		Store:  env.store,
		Clock:  env.clock.Now,
		Grace:  2 * time.Hour,
		Locker: heldLocker{},
		Logger: zerolog.Nop(),
	})

	env.clock.Advance(4 * time.Hour)
	sweeper.runGuarded(ctx)

	current, err := env.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, current.Status)
}
