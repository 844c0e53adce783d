package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"shortform/internal/config"
	"shortform/internal/httpapi"
	"shortform/internal/pkg/logger"
	"shortform/internal/pkg/shutdown"
	"shortform/internal/store"
)

func main() {
	log := logger.New(logger.Config{
		Level:       config.Env("LOG_LEVEL", "info"),
		Format:      config.Env("LOG_FORMAT", "json"),
		ServiceName: "shortform-api",
		AddSource:   config.BoolEnv("LOG_SOURCE", false),
	})

	log.Info("starting shortform API", "version", "0.1.0")

	cfg, err := config.Load(config.Env("CONFIG_FILE", "shortform.yaml"))
	if err != nil {
		log.LogFatal("failed to load configuration", err)
	}

	httpPort := config.Env("HTTP_PORT", "8080")
	dbURL := config.MustEnv("DATABASE_URL")
	redisAddr := config.MustEnv("REDIS_ADDR")
	queueName := config.Env("JOB_QUEUE_NAME", "shortform:jobs")

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})
	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	log.Info("PostgreSQL connected")

	log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")

	if err := store.NewJobStore(pool).Migrate(ctx); err != nil {
		log.LogFatal("failed to apply jobs schema", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Pool:      pool,
		RDB:       rdb,
		Cfg:       cfg,
		QueueName: queueName,
		Log:       log,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + httpPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr, "port", httpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
