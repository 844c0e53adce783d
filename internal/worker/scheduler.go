package worker

import (
	"context"
	"time"

	"shortform/internal/pipeline"
	"shortform/internal/pkg/logger"
	"shortform/internal/store"
	"shortform/internal/worker/queue"
)

// RunScheduler enqueues a topicless job every interval. The model picks
// the topic within the configured niche. It returns when ctx ends.
func RunScheduler(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("scheduler")

	interval := time.Duration(d.Cfg.Schedule.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 8 * time.Hour
	}

	q := queue.NewRedisQueue(d.RDB, d.QueueName)
	jobs := store.NewJobStore(d.Pool)

	log.Info("scheduler started", "interval_hours", interval.Hours())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			job := pipeline.NewJob("")
			if err := jobs.Create(ctx, job); err != nil {
				log.Error("scheduled job create failed", "error", err.Error())
				continue
			}
			if err := q.Push(ctx, job.ID); err != nil {
				log.Error("scheduled job enqueue failed", "error", err.Error())
				continue
			}
			log.Info("scheduled job enqueued", "job_id", job.ID)
		}
	}
}
