// Package store persists generation jobs in PostgreSQL.
package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shortform/internal/pipeline"
	"shortform/internal/pkg/errors"
)

// Schema is the jobs table DDL, applied at worker startup.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	topic            TEXT NOT NULL DEFAULT '',
	stage            TEXT NOT NULL,
	failed_stage     TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	regenerations    INT NOT NULL DEFAULT 0,
	attempts_json    JSONB NOT NULL DEFAULT '{}',
	degraded         BOOLEAN NOT NULL DEFAULT FALSE,
	artifacts_json   JSONB NOT NULL DEFAULT '{}',
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_stage_idx ON jobs (stage);
`

// JobStore is the pg-backed job repository. It also implements
// pipeline.Sink so the orchestrator persists every transition through it.
type JobStore struct {
	db *pgxpool.Pool
}

func NewJobStore(db *pgxpool.Pool) *JobStore {
	return &JobStore{db: db}
}

// Migrate creates the jobs table if it does not exist.
func (s *JobStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return errors.Wrap(err, "store.Migrate", "apply jobs schema")
	}
	return nil
}

func (s *JobStore) Create(ctx context.Context, job *pipeline.Job) error {
	attempts, artifacts, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO jobs (id, topic, stage, failed_stage, reason, regenerations,
			attempts_json, degraded, artifacts_json, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, job.ID, job.Topic, string(job.Stage), job.FailedStage, job.Reason,
		job.Regenerations, attempts, job.Degraded, artifacts,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "store.Create", "insert job")
	}
	return nil
}

// Update implements pipeline.Sink.
func (s *JobStore) Update(ctx context.Context, job *pipeline.Job) error {
	attempts, artifacts, err := marshalJob(job)
	if err != nil {
		return err
	}
	cmd, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET stage=$2, failed_stage=$3, reason=$4, regenerations=$5,
			attempts_json=$6, degraded=$7, artifacts_json=$8, updated_at=$9
		WHERE id=$1
	`, job.ID, string(job.Stage), job.FailedStage, job.Reason,
		job.Regenerations, attempts, job.Degraded, artifacts, job.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "store.Update", "update job")
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("job", job.ID)
	}
	return nil
}

// Cancelled implements pipeline.Sink.
func (s *JobStore) Cancelled(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := s.db.QueryRow(ctx,
		`SELECT cancel_requested FROM jobs WHERE id=$1`, jobID).Scan(&requested)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, errors.NotFound("job", jobID)
		}
		return false, errors.Wrap(err, "store.Cancelled", "query cancel flag")
	}
	return requested, nil
}

// RequestCancel marks a job for cancellation; the orchestrator honors it
// at the next stage boundary. Jobs already terminal are left alone.
func (s *JobStore) RequestCancel(ctx context.Context, jobID string) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE jobs SET cancel_requested=TRUE, updated_at=now()
		WHERE id=$1 AND stage NOT IN ($2, $3)
	`, jobID, string(pipeline.StagePublished), string(pipeline.StageFailed))
	if err != nil {
		return errors.Wrap(err, "store.RequestCancel", "update cancel flag")
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("job", jobID)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*pipeline.Job, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, topic, stage, failed_stage, reason, regenerations,
			attempts_json, degraded, artifacts_json, created_at, updated_at
		FROM jobs WHERE id=$1
	`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("job", jobID)
		}
		return nil, errors.Wrap(err, "store.Get", "query job")
	}
	return job, nil
}

func (s *JobStore) List(ctx context.Context, limit int) ([]*pipeline.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, topic, stage, failed_stage, reason, regenerations,
			attempts_json, degraded, artifacts_json, created_at, updated_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "store.List", "query jobs")
	}
	defer rows.Close()

	var out []*pipeline.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "store.List", "scan job")
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "store.List", "iterate jobs")
	}
	return out, nil
}

func marshalJob(job *pipeline.Job) (attempts, artifacts []byte, err error) {
	attempts, err = json.Marshal(job.Attempts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "store.marshalJob", "marshal attempts")
	}
	artifacts, err = json.Marshal(job.Artifacts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "store.marshalJob", "marshal artifacts")
	}
	return attempts, artifacts, nil
}

func scanJob(row pgx.Row) (*pipeline.Job, error) {
	var job pipeline.Job
	var stage string
	var attempts, artifacts []byte
	err := row.Scan(&job.ID, &job.Topic, &stage, &job.FailedStage, &job.Reason,
		&job.Regenerations, &attempts, &job.Degraded, &artifacts,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Stage = pipeline.Stage(stage)
	if err := json.Unmarshal(attempts, &job.Attempts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(artifacts, &job.Artifacts); err != nil {
		return nil, err
	}
	if job.Attempts == nil {
		job.Attempts = make(map[string]int)
	}
	return &job, nil
}
