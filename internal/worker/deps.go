package worker

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"shortform/internal/config"
	"shortform/internal/pipeline"
	"shortform/internal/pkg/logger"
)

type Deps struct {
	Pool      *pgxpool.Pool
	RDB       *redis.Client
	Cfg       config.Config
	QueueName string
	Orch      *pipeline.Orchestrator
	Log       *logger.Logger
}
