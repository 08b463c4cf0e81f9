package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicops/scheduling-engine/internal/audit"
	"github.com/clinicops/scheduling-engine/internal/config"
	"github.com/clinicops/scheduling-engine/internal/db"
	"github.com/clinicops/scheduling-engine/internal/logging"
	"github.com/clinicops/scheduling-engine/internal/notify"
	redisclient "github.com/clinicops/scheduling-engine/internal/redis"
	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("sweeper", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New("sweeper", cfg.Env)
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Dur("grace", cfg.GracePeriod).
		Msg("no-show sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	store := scheduling.NewPgStore(pgPool)
	sweeper := scheduling.NewSweeper(scheduling.SweeperConfig{
		Store:     store,
		Notifier:  notify.NewLogDispatcher(log),
		Audit:     audit.NewPgRecorder(pgPool, log),
		Locker:    redisclient.NewNamedLocker(rdb, cfg.LockTTL),
		Grace:     cfg.GracePeriod,
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
		Logger:    log,
	})

	sweeper.Start(rootCtx)
}
