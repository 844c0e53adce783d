package worker

import (
	"context"
	"time"

	"shortform/internal/pkg/logger"
	"shortform/internal/store"
	"shortform/internal/worker/queue"
)

// Run consumes job IDs from the queue and drives each one through the
// orchestrator until the context is cancelled.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	q := queue.NewRedisQueue(d.RDB, d.QueueName)
	jobs := store.NewJobStore(d.Pool)

	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		default:
		}

		// Use a separate context with timeout for queue operations
		popCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		jobID, err := q.Pop(popCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			log.Warn("queue pop error, retrying",
				"error", err.Error(),
			)
			time.Sleep(1 * time.Second)
			continue
		}

		if jobID == "" {
			continue
		}

		jobCtx := logger.ContextWithJobID(ctx, jobID)
		jobLog := log.WithJobID(jobID)

		job, err := jobs.Get(jobCtx, jobID)
		if err != nil {
			jobLog.Error("job not found in store, skipping",
				"error", err.Error(),
			)
			continue
		}
		if job.Stage.Terminal() {
			jobLog.Info("job already terminal, skipping", "stage", string(job.Stage))
			continue
		}

		jobLog.Info("processing job")
		startTime := time.Now()

		if err := d.Orch.Run(jobCtx, job); err != nil {
			jobLog.Error("job failed",
				"error", err.Error(),
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		} else {
			jobLog.Info("job completed",
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		}
	}
}
