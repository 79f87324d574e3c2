package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"relecloud/internal/adapters/storage/localfs"
	"relecloud/internal/config"
	"relecloud/internal/domains"
	"relecloud/internal/httpapi"
	"relecloud/internal/httpapi/handlers"
	"relecloud/internal/pkg/logger"
	"relecloud/internal/pkg/shutdown"
	"relecloud/internal/repositories"
	"relecloud/internal/storage"
	"relecloud/internal/upload"
	uploadprom "relecloud/internal/upload/prometheus"
	"relecloud/internal/worker/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "relecloud-api",
		AddSource:   cfg.Log.AddSource,
	})

	log.Info("starting relecloud API",
		"version", "0.1.0",
		"production", cfg.IsProduction,
		"storage_backend", cfg.Storage.Backend,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	// PostgreSQL
	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.RegisterSimple("postgres", pool.Close)

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	projects := repositories.NewProjectRepository(pool)
	if err := projects.EnsureSchema(ctx); err != nil {
		log.LogFatal("failed to ensure schema", err)
	}
	log.Info("PostgreSQL connected")

	// Redis is optional: it backs the domain registry and the orphan queue.
	var (
		rdb         redis.UniversalClient
		registry    handlers.DomainRegistry
		orphanQueue handlers.OrphanQueue
	)
	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis")
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		shutdownMgr.Register("redis", func(context.Context) error {
			return client.Close()
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		rdb = client
		registry = domains.NewRegistry(client)
		if cfg.Orphans.SweepEnabled {
			orphanQueue = queue.NewRedisQueue(client, cfg.Orphans.QueueName)
		}
		log.Info("Redis connected", "orphan_sweep", cfg.Orphans.SweepEnabled)
	} else {
		log.Warn("REDIS_ADDR not set, domain registry disabled")
	}

	// Storage is checked eagerly; a missing container stops startup.
	log.Info("initializing storage provider")
	store, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", store.Provider())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := uploadprom.NewObserver("", reg)
	if err != nil {
		log.LogFatal("failed to register upload metrics", err)
	}

	normalizer := upload.New(store, upload.Options{
		DirRoot:       cfg.Upload.DirRoot,
		MaxEntryBytes: cfg.Upload.MaxBytes,
		Log:           log,
		Observer:      observer,
	})

	var blobs http.Handler
	if local, ok := store.(*localfs.LocalFS); ok {
		blobs = local
	}

	deps := httpapi.Deps{
		Handlers: handlers.Deps{
			Projects:       projects,
			Uploader:       normalizer,
			Store:          store,
			Domains:        registry,
			Orphans:        orphanQueue,
			DB:             pool,
			RDB:            rdb,
			Log:            log,
			MaxUploadBytes: cfg.Upload.MaxBytes,
		},
		AllowedOrigin:      cfg.AllowedOrigin,
		RequireHTTPSOrigin: cfg.IsProduction,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Blobs:              blobs,
		Gatherer:           reg,
		Log:                log,
	}
	router := httpapi.NewRouter(deps)

	// Requests still running once the drain timeout has passed are canceled.
	baseCtx := shutdownMgr.Context()
	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	var listenFailed atomic.Bool
	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTP.Port,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Closing the pools still matters when the listener never came up.
			log.LogError(ctx, "HTTP server failed", err)
			listenFailed.Store(true)
			_ = shutdownMgr.Shutdown()
		}
	}()

	if err := shutdownMgr.Wait(); err != nil {
		log.LogError(ctx, "shutdown finished with errors", err)
		os.Exit(1)
	}
	if listenFailed.Load() {
		os.Exit(1)
	}
}
