package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"shortform/internal/artifacts"
	"shortform/internal/clients/diffusion"
	"shortform/internal/clients/llm"
	"shortform/internal/clients/publish"
	"shortform/internal/clients/render"
	"shortform/internal/clients/speech"
	"shortform/internal/config"
	"shortform/internal/pipeline"
	"shortform/internal/pkg/logger"
	"shortform/internal/pkg/shutdown"
	"shortform/internal/script"
	"shortform/internal/store"
	"shortform/internal/worker"
)

func main() {
	log := logger.New(logger.Config{
		Level:       config.Env("LOG_LEVEL", "info"),
		Format:      config.Env("LOG_FORMAT", "json"),
		ServiceName: "shortform-worker",
		AddSource:   config.BoolEnv("LOG_SOURCE", false),
	})

	cfg, err := config.Load(config.Env("CONFIG_FILE", "shortform.yaml"))
	if err != nil {
		log.LogFatal("failed to load configuration", err)
	}

	dbURL := config.MustEnv("DATABASE_URL")
	redisAddr := config.MustEnv("REDIS_ADDR")
	queueName := config.Env("JOB_QUEUE_NAME", "shortform:jobs")

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

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

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	jobs := store.NewJobStore(pool)
	if err := jobs.Migrate(ctx); err != nil {
		log.LogFatal("failed to apply jobs schema", err)
	}

	files, err := artifacts.NewStore(cfg.Paths.DataDir)
	if err != nil {
		log.LogFatal("failed to initialize artifact store", err)
	}

	model := llm.New(llm.Config{
		BaseURL:     config.Env("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		APIKey:      config.MustEnv("LLM_API_KEY"),
		Model:       cfg.Script.Model,
		Temperature: cfg.Script.Temperature,
		MaxTokens:   cfg.Script.MaxTokens,
	})

	orch := pipeline.New(cfg, pipeline.Deps{
		Scripts: script.NewGenerator(model, cfg.Script.Niche),
		Media: diffusion.New(diffusion.Config{
			BaseURL: config.MustEnv("DIFFUSION_BASE_URL"),
			Steps:   cfg.Media.Steps,
		}),
		Speech: speech.New(speech.Config{
			BaseURL: config.MustEnv("SPEECH_BASE_URL"),
			Voice:   cfg.Speech.Voice,
		}),
		Renderer: render.New(config.MustEnv("RENDERER_HTTP_BASEURL")),
		Publisher: publish.New(publish.Config{
			ClientID:        config.MustEnv("YOUTUBE_CLIENT_ID"),
			ClientSecret:    config.MustEnv("YOUTUBE_CLIENT_SECRET"),
			RefreshToken:    config.MustEnv("YOUTUBE_REFRESH_TOKEN"),
			CategoryID:      cfg.Publish.CategoryID,
			Privacy:         cfg.Publish.PrivacyStatus,
			MadeForKids:     cfg.Publish.MadeForKids,
			DefaultLanguage: cfg.Publish.DefaultLanguage,
		}),
		Artifacts: files,
		Sink:      jobs,
	}, log)

	deps := worker.Deps{
		Pool:      pool,
		RDB:       rdb,
		Cfg:       cfg,
		QueueName: queueName,
		Orch:      orch,
		Log:       log,
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		cancelWorker()
		return nil
	})

	if cfg.Schedule.Enabled {
		go func() {
			if err := worker.RunScheduler(workerCtx, deps); err != nil && workerCtx.Err() == nil {
				log.Error("scheduler stopped", "error", err.Error())
			}
		}()
	}

	go func() {
		log.Info("worker started", "queue", queueName)
		if err := worker.Run(workerCtx, deps); err != nil && workerCtx.Err() == nil {
			log.LogFatal("worker loop failed", err)
		}
	}()

	shutdownMgr.Wait()
}
