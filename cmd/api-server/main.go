package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/appointment-scheduling/internal/api"
	"github.com/clinicore/appointment-scheduling/internal/config"
	"github.com/clinicore/appointment-scheduling/internal/db"
	redisclient "github.com/clinicore/appointment-scheduling/internal/redis"
	"github.com/clinicore/appointment-scheduling/internal/scheduling"
)

const version = "0.3.0"

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis
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

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		PgPool:    pgPool,
		Redis:     rdb,
		JWTSecret: cfg.JWTSecret,
		TimeZone:  cfg.ClinicTimeZone,
		Env:       cfg.Env,
		Version:   version,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("api-server stopped")
}
