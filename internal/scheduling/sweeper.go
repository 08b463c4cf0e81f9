package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicops/scheduling-engine/internal/audit"
	"github.com/clinicops/scheduling-engine/internal/notify"
)

// Locker serializes sweep passes across instances. The redis package
// provides the production implementation; a nil Locker runs unguarded,
// which is safe because every row transition is a compare-and-swap.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// ErrLockHeld is returned by a Locker when another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

const sweepLockName = "noshow-sweep"

// Sweeper reclassifies stale PENDING/CONFIRMED appointments as NO_SHOW once
// they are more than the grace period past their scheduled time. Capacity is
// deliberately not released: booked_count reflects "reserved", not
// "attended", so a no-show keeps its unit for the audit trail.
type Sweeper struct {
	store     Store
	notifier  notify.Dispatcher
	audit     audit.Recorder
	locker    Locker
	clock     func() time.Time
	grace     time.Duration
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
}

type SweeperConfig struct {
	Store     Store
	Notifier  notify.Dispatcher
	Audit     audit.Recorder
	Locker    Locker        // optional
	Clock     func() time.Time
	Grace     time.Duration // default 2h
	Interval  time.Duration // default 5m
	BatchSize int           // default 500
	Logger    zerolog.Logger
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Noop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		audit:     cfg.Audit,
		locker:    cfg.Locker,
		clock:     cfg.Clock,
		grace:     cfg.Grace,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		log:       cfg.Logger,
	}
}

// Start runs one pass immediately, then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.runGuarded(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopping")
			return
		case <-ticker.C:
			s.runGuarded(ctx)
		}
	}
}

// runGuarded wraps a pass in the distributed lock when one is configured.
// Losing the lock just skips the pass; the next holder will pick the rows up.
func (s *Sweeper) runGuarded(ctx context.Context) {
	run := func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, sweepLockName, run)
		if errors.Is(err, ErrLockHeld) {
			s.log.Debug().Msg("sweep lock held elsewhere, skipping pass")
			return
		}
	} else {
		err = run(ctx)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("sweep pass failed")
	}
}

// RunOnce performs a single sweep pass and returns how many appointments it
// transitioned. Each row is its own unit of work: a row that was mutated
// concurrently (or otherwise fails) is logged and skipped, never aborting
// the batch. Running twice back to back transitions nothing the second
// time, because the selection excludes rows already in NO_SHOW.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.clock()
	cutoff := now.Add(-s.grace)

	candidates, err := s.store.FindNoShowCandidates(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, appt := range candidates {
		if err := ValidateTransition(appt.Status, StatusNoShow); err != nil {
			// Selection raced a concurrent transition; nothing to do.
			continue
		}

		updated, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusNoShow)
		if err != nil {
			s.log.Warn().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("no-show transition skipped")
			continue
		}
		transitioned++

		s.notifier.Dispatch(ctx, EventAppointmentNoShow, updated.ID)
		s.audit.Record(ctx, "sweeper", EventAppointmentNoShow, updated.ID, map[string]any{
			"from":         string(appt.Status),
			"scheduled_at": appt.ScheduledAt,
		})
	}

	if transitioned > 0 || len(candidates) > 0 {
		s.log.Info().
			Int("candidates", len(candidates)).
			Int("transitioned", transitioned).
			Msg("no-show sweep complete")
	}
	return transitioned, nil
}
