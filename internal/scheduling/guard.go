package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CapacityGuard is the only writer of booked_count. Reserve claims one unit
// on a slot or refuses with a specific reason; Release returns one unit,
// floored at zero. Double-release protection belongs to the coordinator,
// which knows appointment state; the guard is not appointment-aware.
type CapacityGuard interface {
	Reserve(ctx context.Context, slotID uuid.UUID) error
	Release(ctx context.Context, slotID uuid.UUID) error
}

type storeGuard struct {
	store   Store
	clock   func() time.Time
	retries int
	backoff time.Duration
	log     zerolog.Logger
}

type GuardConfig struct {
	Store   Store
	Clock   func() time.Time // defaults to time.Now
	Retries int              // attempts after a transient conflict, default 3
	Backoff time.Duration    // pause between attempts, default 25ms
	Logger  zerolog.Logger
}

func NewCapacityGuard(cfg GuardConfig) CapacityGuard {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 25 * time.Millisecond
	}
	return &storeGuard{
		store:   cfg.Store,
		clock:   cfg.Clock,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		log:     cfg.Logger,
	}
}

// Reserve retries transient conflicts a bounded number of times before
// surfacing ErrTransientConflict. All other refusals surface immediately.
func (g *storeGuard) Reserve(ctx context.Context, slotID uuid.UUID) error {
	var lastErr error
	for attempt := 0; attempt < g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.backoff):
			}
		}

		err := g.store.ReserveSlot(ctx, slotID, g.clock())
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransientConflict) {
			return err
		}
		lastErr = err
		g.log.Debug().
			Str("slot_id", slotID.String()).
			Int("attempt", attempt+1).
			Msg("reserve conflict, retrying")
	}
	return lastErr
}

func (g *storeGuard) Release(ctx context.Context, slotID uuid.UUID) error {
	return g.store.ReleaseSlot(ctx, slotID)
}
