package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"relecloud/internal/config"
	"relecloud/internal/pkg/logger"
	"relecloud/internal/storage"
	"relecloud/internal/worker"
)

func main() {
	cfg, err := config.LoadTool()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "relecloud-worker",
		AddSource:   cfg.Log.AddSource,
	})

	if cfg.Redis.Addr == "" {
		log.Error("REDIS_ADDR is required by the orphan sweeper")
		os.Exit(1)
	}
	if !cfg.Orphans.SweepEnabled {
		log.Warn("ORPHAN_SWEEP_ENABLED is false, the API will not queue orphans for this worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	store, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	err = worker.Run(ctx, worker.Deps{
		RDB:       rdb,
		Store:     store,
		QueueName: cfg.Orphans.QueueName,
		Log:       log,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogFatal("sweeper stopped", err)
	}
	log.Info("sweeper stopped")
}
