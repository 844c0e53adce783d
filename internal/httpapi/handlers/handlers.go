package handlers

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"shortform/internal/config"
	"shortform/internal/pkg/logger"
	"shortform/internal/store"
	"shortform/internal/worker/queue"
)

type Deps struct {
	Pool      *pgxpool.Pool
	RDB       *redis.Client
	Cfg       config.Config
	QueueName string
	Log       *logger.Logger
}

type Handler struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client
	cfg   config.Config
	jobs  *store.JobStore
	queue *queue.RedisQueue
	log   *logger.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		pool:  d.Pool,
		rdb:   d.RDB,
		cfg:   d.Cfg,
		jobs:  store.NewJobStore(d.Pool),
		queue: queue.NewRedisQueue(d.RDB, d.QueueName),
		log:   d.Log,
	}
}
