package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/api"
	"github.com/hackgods/clinic-appointment-store/internal/appointment"
	"github.com/hackgods/clinic-appointment-store/internal/config"
	"github.com/hackgods/clinic-appointment-store/internal/db"
	"github.com/hackgods/clinic-appointment-store/internal/logger"
	"github.com/hackgods/clinic-appointment-store/internal/patient"
	redisclient "github.com/hackgods/clinic-appointment-store/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store_driver", cfg.StoreDriver).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeCtx, cancelStore := context.WithTimeout(rootCtx, 10*time.Second)
	st, err := db.OpenStore(storeCtx, cfg)
	cancelStore()
	if err != nil {
		log.Fatal().Err(err).Msg("store connection error")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("error closing store")
		}
	}()
	log.Info().Str("driver", cfg.StoreDriver).Msg("connected to store")

	// Redis is optional: without it writes rely on the store's version check
	// alone and contact follow-ups run in-process.
	var (
		rdb      *redis.Client
		locker   redisclient.Locker = redisclient.NopLocker{}
		contacts patient.Dispatcher
	)
	directory := patient.NewStoreDirectory(st, cfg.PatientsCollection)
	inline := patient.NewInlineDispatcher(directory, 10*time.Second, log)
	contacts = inline

	if cfg.RedisEnabled {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "api-server")
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, continuing without day locks and contact queue")
			rdb = nil
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					log.Error().Err(err).Msg("error closing redis")
				}
			}()
			locker = redisclient.NewRedisDayLocker(rdb, cfg.AppointmentsCollection, cfg.LockTTL)
			contacts = patient.NewQueueDispatcher(redisclient.NewQueue(rdb, cfg.ContactQueue))
			log.Info().Str("queue", cfg.ContactQueue).Msg("connected to Redis")
		}
	}

	days := appointment.NewDayRepository(st, cfg.AppointmentsCollection, locker, cfg.DayWriteRetries, log)
	svc := appointment.NewService(days, contacts, cfg, log)
	proj := appointment.NewProjector(st, cfg.AppointmentsCollection, log)

	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		Projector:   proj,
		Store:       st,
		StoreDriver: cfg.StoreDriver,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	inline.Wait()

	log.Info().Msg("api-server stopped")
}
