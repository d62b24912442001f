package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/appointment-scheduling/internal/config"
	"github.com/clinicore/appointment-scheduling/internal/db"
	redisclient "github.com/clinicore/appointment-scheduling/internal/redis"
	"github.com/clinicore/appointment-scheduling/internal/scheduling"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "reminder-worker").Logger()
	log.Info().Msg("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("window", cfg.ReminderWindow).
		Msg("running reminder worker")

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

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	notifier := scheduling.NewLogNotifier(log.With().Str("component", "notifier").Logger())
	svc := scheduling.NewService(repo, locker, notifier, scheduling.SystemClock{}, cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := svc.DispatchReminders(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("reminder run error")
		return
	}
	log.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("reminder run complete")
}
