package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shortform/internal/httpkit"
	"shortform/internal/pipeline"
	"shortform/internal/pkg/errors"
)

type CreateJobRequest struct {
	Topic string `json:"topic"`
}

// PostJob queues an asynchronous generation job. Topic is optional; an
// empty topic lets the model choose one within the configured niche.
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req CreateJobRequest
	if r.ContentLength > 0 {
		if err := httpkit.DecodeJSON(r, &req); err != nil {
			return errors.New(errors.CodeValidation, "invalid json body")
		}
	}

	job := pipeline.NewJob(strings.TrimSpace(req.Topic))
	if err := h.jobs.Create(ctx, job); err != nil {
		return err
	}
	if err := h.queue.Push(ctx, job.ID); err != nil {
		return errors.WrapWithCode(err, errors.CodeInternal, "handlers.PostJob", "queue push failed")
	}

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"job": job})
	return nil
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) error {
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
	return nil
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) error {
	limit := 50
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []*pipeline.Job{}
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	return nil
}

// CancelJob flags a running job; the worker stops it at the next stage
// boundary rather than aborting the in-flight call.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) error {
	jobID := chi.URLParam(r, "jobId")

	if err := h.jobs.RequestCancel(r.Context(), jobID); err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    jobID,
		"cancelled": true,
	})
	return nil
}

// Run submits a job and blocks until it reaches a terminal stage, then
// responds with the final job record. Execution still happens on the
// worker; this handler polls the store. The pipeline is slow, so the
// request context bounds the wait.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req CreateJobRequest
	if r.ContentLength > 0 {
		if err := httpkit.DecodeJSON(r, &req); err != nil {
			return errors.New(errors.CodeValidation, "invalid json body")
		}
	}

	job := pipeline.NewJob(strings.TrimSpace(req.Topic))
	if err := h.jobs.Create(ctx, job); err != nil {
		return err
	}
	if err := h.queue.Push(ctx, job.ID); err != nil {
		return errors.WrapWithCode(err, errors.CodeInternal, "handlers.Run", "queue push failed")
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client gave up; the job keeps running on the worker.
			httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"job": job})
			return nil
		case <-ticker.C:
		}

		current, err := h.jobs.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		if current.Stage.Terminal() {
			status := http.StatusOK
			if current.Stage == pipeline.StageFailed {
				status = http.StatusBadGateway
			}
			httpkit.WriteJSON(w, status, map[string]any{"job": current})
			return nil
		}
	}
}
