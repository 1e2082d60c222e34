package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/config"
	"github.com/hackgods/clinic-appointment-store/internal/db"
	"github.com/hackgods/clinic-appointment-store/internal/logger"
	"github.com/hackgods/clinic-appointment-store/internal/patient"
	redisclient "github.com/hackgods/clinic-appointment-store/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "contact-worker")
	log.Info().
		Str("env", cfg.Env).
		Str("queue", cfg.ContactQueue).
		Dur("wait", cfg.WorkerInterval).
		Msg("contact-worker starting up")

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

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "contact-worker")
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	queue := redisclient.NewQueue(rdb, cfg.ContactQueue)
	directory := patient.NewStoreDirectory(st, cfg.PatientsCollection)
	worker := patient.NewWorker(queue, directory, cfg.WorkerInterval, log)
	log.Info().Str("queue", queue.Name()).Str("dead_letter", queue.Name()+":dead").Msg("draining contact queue")

	worker.Run(rootCtx)

	log.Info().Msg("shutdown signal received, contact worker stopped")
}
