package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicops/scheduling-engine/internal/api"
	"github.com/clinicops/scheduling-engine/internal/audit"
	"github.com/clinicops/scheduling-engine/internal/config"
	"github.com/clinicops/scheduling-engine/internal/db"
	"github.com/clinicops/scheduling-engine/internal/logging"
	"github.com/clinicops/scheduling-engine/internal/notify"
	redisclient "github.com/clinicops/scheduling-engine/internal/redis"
	"github.com/clinicops/scheduling-engine/internal/scheduling"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("api-server", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New("api-server", cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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
	guard := scheduling.NewCapacityGuard(scheduling.GuardConfig{
		Store:   store,
		Retries: cfg.ReserveRetries,
		Backoff: cfg.ReserveBackoff,
		Logger:  log,
	})
	recorder := audit.NewPgRecorder(pgPool, log)
	dispatcher := notify.NewLogDispatcher(log)

	coordinator := scheduling.NewCoordinator(scheduling.CoordinatorConfig{
		Store:    store,
		Guard:    guard,
		Notifier: dispatcher,
		Audit:    recorder,
		Logger:   log,
	})
	sweeper := scheduling.NewSweeper(scheduling.SweeperConfig{
		Store:     store,
		Notifier:  dispatcher,
		Audit:     recorder,
		Locker:    redisclient.NewNamedLocker(rdb, cfg.LockTTL),
		Grace:     cfg.GracePeriod,
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
		Logger:    log,
	})

	router := api.NewRouter(api.RouterConfig{
		Coordinator: coordinator,
		Sweeper:     sweeper,
		PgPool:      pgPool,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}
