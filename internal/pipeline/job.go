// Package pipeline sequences one generation job through its stages:
// script, media, audio, render, publish.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a job's position in the state machine. The success path runs
// created through published in order; failed is reachable from any
// non-terminal stage.
type Stage string

const (
	StageCreated        Stage = "created"
	StageScriptPending  Stage = "script_pending"
	StageScriptValid    Stage = "script_valid"
	StageMediaPending   Stage = "media_pending"
	StageMediaComplete  Stage = "media_complete"
	StageAudioPending   Stage = "audio_pending"
	StageAudioComplete  Stage = "audio_complete"
	StageRenderPending  Stage = "render_pending"
	StageRenderComplete Stage = "render_complete"
	StagePublished      Stage = "published"
	StageFailed         Stage = "failed"
)

func (s Stage) Terminal() bool {
	return s == StagePublished || s == StageFailed
}

// Failure reasons with meaning beyond the underlying error message.
const (
	ReasonRegenerationExhausted = "ScriptRegenerationExhausted"
	ReasonCancelled             = "Cancelled"
)

// Stage names used for per-stage attempt accounting.
const (
	opScript  = "script"
	opMedia   = "media"
	opAudio   = "audio"
	opRender  = "render"
	opPublish = "publish"
)

// Artifacts are the files a job has produced so far. They are recorded as
// each stage completes and kept when a later stage fails.
type Artifacts struct {
	ScriptPath string   `json:"script_path,omitempty"`
	ImagePaths []string `json:"image_paths,omitempty"`
	AudioPath  string   `json:"audio_path,omitempty"`
	VideoPath  string   `json:"video_path,omitempty"`
	VideoID    string   `json:"video_id,omitempty"`
	VideoURL   string   `json:"video_url,omitempty"`
}

// Job is the unit of work. It is mutated only by the Orchestrator.
type Job struct {
	ID            string         `json:"id"`
	Topic         string         `json:"topic,omitempty"`
	Stage         Stage          `json:"stage"`
	FailedStage   string         `json:"failed_stage,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Regenerations int            `json:"regenerations"`
	Attempts      map[string]int `json:"attempts"`
	Degraded      bool           `json:"degraded"`
	Artifacts     Artifacts      `json:"artifacts"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// audioDuration carries the measured track length from the audio stage
	// to the render stage within one run; it is not persisted.
	audioDuration time.Duration
}

func NewJob(topic string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Topic:     topic,
		Stage:     StageCreated,
		Attempts:  make(map[string]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
