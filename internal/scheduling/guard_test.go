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

// flakyStore fails ReserveSlot with a transient conflict a fixed number of
// times before delegating.
type flakyStore struct {
	Store
	failures int
	calls    int
}

func (s *flakyStore) ReserveSlot(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.calls++
	if s.calls <= s.failures {
		return ErrTransientConflict
	}
	return s.Store.ReserveSlot(ctx, id, now)
}

func newGuardSlot(t *testing.T, store *MemoryStore, now time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, store.CreateSlots(context.Background(), []Timeslot{{
		ID:          id,
		DoctorID:    uuid.New(),
		StartTime:   now.Add(time.Hour),
		EndTime:     now.Add(90 * time.Minute),
		MaxPatients: 1,
	}}))
	return id
}

func TestGuardRetriesTransientConflicts(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mem := NewMemoryStore()
	slotID := newGuardSlot(t, mem, now)

	flaky := &flakyStore{Store: mem, failures: 2}
	guard := NewCapacityGuard(GuardConfig{
		Store:   flaky,
		Clock:   func() time.Time { return now },
		Retries: 3,
		Backoff: time.Millisecond,
		Logger:  zerolog.Nop(),
	})

	require.NoError(t, guard.Reserve(context.Background(), slotID))
	assert.Equal(t, 3, flaky.calls)

	slot, err := mem.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	assert.Equal(t, 1, slot.BookedCount)
}

func TestGuardSurfacesExhaustedConflict(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mem := NewMemoryStore()
	slotID := newGuardSlot(t, mem, now)

	flaky := &flakyStore{Store: mem, failures: 10}
	guard := NewCapacityGuard(GuardConfig{
		Store:   flaky,
		Clock:   func() time.Time { return now },
		Retries: 3,
		Backoff: time.Millisecond,
		Logger:  zerolog.Nop(),
	})

	err := guard.Reserve(context.Background(), slotID)
	assert.ErrorIs(t, err, ErrTransientConflict)
	assert.Equal(t, 3, flaky.calls)

	slot, err := mem.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	assert.Equal(t, 0, slot.BookedCount)
}

func TestGuardDoesNotRetryHardRefusals(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mem := NewMemoryStore()
	slotID := newGuardSlot(t, mem, now)

	flaky := &flakyStore{Store: mem}
	guard := NewCapacityGuard(GuardConfig{
		Store:  flaky,
		Clock:  func() time.Time { return now },
		Logger: zerolog.Nop(),
	})

	require.NoError(t, guard.Reserve(context.Background(), slotID))
	err := guard.Reserve(context.Background(), slotID)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, flaky.calls)
}
