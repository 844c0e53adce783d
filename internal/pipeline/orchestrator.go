package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"shortform/internal/clients/publish"
	"shortform/internal/clients/render"
	"shortform/internal/config"
	"shortform/internal/media"
	"shortform/internal/pkg/errors"
	"shortform/internal/pkg/logger"
	"shortform/internal/retry"
	"shortform/internal/script"
)

// ScriptSource produces candidate script documents. The raw model text is
// returned alongside so it can be persisted when parsing fails.
type ScriptSource interface {
	Generate(ctx context.Context, c script.Constraints) (*script.Document, string, error)
}

// Speech synthesizes narration and reports the real audio duration.
type Speech interface {
	Synthesize(ctx context.Context, text string) ([]byte, time.Duration, error)
}

// Renderer assembles images and audio into the final video file.
type Renderer interface {
	Render(ctx context.Context, spec render.Spec) (string, error)
}

// Publisher uploads the finished video.
type Publisher interface {
	Upload(ctx context.Context, videoPath string, meta publish.Metadata) (*publish.Result, error)
}

// ArtifactStore persists stage outputs.
type ArtifactStore interface {
	SaveScript(jobID string, doc *script.Document) (string, error)
	SaveImage(jobID string, sceneIndex int, data []byte) (string, error)
	SaveAudio(jobID string, data []byte) (string, error)
	VideoPath(jobID string) string
	SaveRejected(jobID string, attempt int, raw string) (string, error)
}

// Sink receives every job state change. The production sink is the pg job
// store; tests use an in-memory one. Cancelled is polled at each stage
// boundary; an in-flight external call is never aborted mid-call.
type Sink interface {
	Update(ctx context.Context, job *Job) error
	Cancelled(ctx context.Context, jobID string) (bool, error)
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Scripts   ScriptSource
	Media     media.Backend
	Speech    Speech
	Renderer  Renderer
	Publisher Publisher
	Artifacts ArtifactStore
	Sink      Sink
}

type Orchestrator struct {
	deps   Deps
	cfg    config.Config
	policy retry.Policy
	log    *logger.Logger
}

func New(cfg config.Config, deps Deps, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		policy: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BaseDelay:      cfg.Retry.BaseDelay(),
			MaxDelay:       cfg.Retry.MaxDelay(),
			Multiplier:     cfg.Retry.Multiplier,
			JitterFraction: cfg.Retry.JitterFraction,
		},
		log: log.WithComponent("orchestrator"),
	}
}

// Run drives one job to a terminal stage. The job is mutated in place and
// every transition is pushed to the sink; on failure the job keeps all
// artifacts produced so far. The returned error is the failure cause, nil
// when the job published.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	log := o.log.WithJobID(job.ID)
	log.Info("job started", "topic", job.Topic)

	cons := script.Constraints{
		Topic:         job.Topic,
		SceneCount:    o.cfg.Script.SceneCount,
		MinTotalWords: o.cfg.Script.MinTotalWords,
		MaxTotalWords: o.cfg.Script.MaxTotalWords,
		DurationSec:   o.cfg.Script.MaxDurationSec,
	}

	var doc *script.Document

	// Script through audio can loop: an audio track exceeding the duration
	// ceiling means the script was too long, so it re-enters regeneration
	// rather than failing the audio stage.
	for {
		var err error
		doc, err = o.scriptStage(ctx, job, &cons, log)
		if err != nil {
			return o.fail(ctx, job, opScript, err, log)
		}

		if err := o.mediaStage(ctx, job, doc, log); err != nil {
			return o.fail(ctx, job, opMedia, err, log)
		}

		overrun, err := o.audioStage(ctx, job, doc, log)
		if err != nil {
			return o.fail(ctx, job, opAudio, err, log)
		}
		if !overrun {
			break
		}

		if job.Regenerations >= o.cfg.Script.MaxRegenerations {
			return o.fail(ctx, job, opAudio,
				errors.New(errors.CodeValidationRejected, ReasonRegenerationExhausted), log)
		}
		job.Regenerations++
		shrinkBudget(&cons)
		log.Info("audio overran duration ceiling, regenerating script",
			"regeneration", job.Regenerations, "max_total_words", cons.MaxTotalWords)
	}

	if err := o.renderStage(ctx, job, doc, log); err != nil {
		return o.fail(ctx, job, opRender, err, log)
	}

	if err := o.publishStage(ctx, job, doc, log); err != nil {
		return o.fail(ctx, job, opPublish, err, log)
	}

	log.Info("job published", "video_id", job.Artifacts.VideoID)
	return nil
}

// scriptStage runs the regeneration loop: generate, repair-parse, validate,
// up to the configured cap. Transport failures are retried inside each
// generation attempt; malformed output and validation rejections each
// consume one regeneration.
func (o *Orchestrator) scriptStage(ctx context.Context, job *Job, cons *script.Constraints, log *logger.Logger) (*script.Document, error) {
	if err := o.advance(ctx, job, StageScriptPending); err != nil {
		return nil, err
	}

	limits := script.Limits{
		SceneCount:       o.cfg.Script.SceneCount,
		MinWordsPerScene: o.cfg.Script.MinWordsPerScene,
		MaxWordsPerScene: o.cfg.Script.MaxWordsPerScene,
		MinTotalWords:    cons.MinTotalWords,
		MaxTotalWords:    cons.MaxTotalWords,
		WordsPerMinute:   o.cfg.Script.WordsPerMinute,
		MaxDuration:      time.Duration(o.cfg.Script.MaxDurationSec) * time.Second,
	}

	for {
		if cancelled, err := o.checkCancelled(ctx, job); err != nil || cancelled {
			if cancelled {
				return nil, errors.Cancelled("job cancelled before script generation")
			}
			return nil, err
		}

		var doc *script.Document
		var raw string
		attempts, err := retry.Do(ctx, log, opScript, o.policy, func(ctx context.Context) error {
			d, r, genErr := o.deps.Scripts.Generate(ctx, *cons)
			raw = r
			if genErr != nil {
				return genErr
			}
			doc = d
			return nil
		}, errors.IsRetryable)
		job.Attempts[opScript] += attempts

		if err != nil {
			if errors.IsCode(err, errors.CodeMalformedResponse) {
				if path, saveErr := o.deps.Artifacts.SaveRejected(job.ID, job.Regenerations+1, raw); saveErr != nil {
					log.WithError(saveErr).Warn("failed to persist rejected model output")
				} else {
					log.Info("rejected model output saved", "path", path)
				}
				if job.Regenerations >= o.cfg.Script.MaxRegenerations {
					return nil, errors.New(errors.CodeMalformedResponse, ReasonRegenerationExhausted)
				}
				job.Regenerations++
				log.Info("model output unrepairable, regenerating", "regeneration", job.Regenerations)
				continue
			}
			return nil, err
		}

		if rej := script.Validate(doc, limits); rej != nil {
			log.Info("script rejected", "reason", string(rej.Reason), "detail", rej.Detail)
			if job.Regenerations >= o.cfg.Script.MaxRegenerations {
				return nil, errors.Newf(errors.CodeValidationRejected,
					"%s: last rejection %s", ReasonRegenerationExhausted, rej)
			}
			job.Regenerations++
			if rej.ShrinkBudget() {
				shrinkBudget(cons)
				limits.MaxTotalWords = cons.MaxTotalWords
				limits.MinTotalWords = cons.MinTotalWords
			}
			continue
		}

		// Scenes render in ascending id order; artifacts index by position.
		sort.Slice(doc.Scenes, func(i, j int) bool { return doc.Scenes[i].ID < doc.Scenes[j].ID })

		path, err := o.deps.Artifacts.SaveScript(job.ID, doc)
		if err != nil {
			return nil, err
		}
		job.Artifacts.ScriptPath = path

		if err := o.advance(ctx, job, StageScriptValid); err != nil {
			return nil, err
		}
		log.Info("script accepted", "scenes", len(doc.Scenes), "words", doc.WordCount())
		return doc, nil
	}
}

// mediaStage generates one image per scene, sequentially. The diffusion
// handle is held for the whole stage and reset on the way out whether the
// stage succeeded or not.
func (o *Orchestrator) mediaStage(ctx context.Context, job *Job, doc *script.Document, log *logger.Logger) error {
	if err := o.advance(ctx, job, StageMediaPending); err != nil {
		return err
	}

	// The generator is rebuilt each pass, but degradation is a property of
	// the job: a regenerated script never re-attempts full resolution.
	gen := media.New(o.deps.Media, media.Options{
		Width:           o.cfg.Media.Width,
		Height:          o.cfg.Media.Height,
		DegradeFraction: o.cfg.Media.DegradeFraction,
		Degraded:        job.Degraded,
	}, log)
	defer func() {
		resetCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.deps.Media.Reset(resetCtx); err != nil {
			log.WithError(err).Warn("diffusion reset failed")
		}
	}()

	job.Artifacts.ImagePaths = make([]string, 0, len(doc.Scenes))
	for i, scene := range doc.Scenes {
		attempts, err := retry.Do(ctx, log, opMedia, o.policy, func(ctx context.Context) error {
			img, genErr := gen.Generate(ctx, scene.ImagePrompt)
			if genErr != nil {
				return genErr
			}
			path, saveErr := o.deps.Artifacts.SaveImage(job.ID, i, img)
			if saveErr != nil {
				return saveErr
			}
			job.Artifacts.ImagePaths = append(job.Artifacts.ImagePaths, path)
			return nil
		}, errors.IsRetryable)
		job.Attempts[opMedia] += attempts
		job.Degraded = job.Degraded || gen.Degraded()
		if err != nil {
			return err
		}
	}

	return o.advance(ctx, job, StageMediaComplete)
}

// audioStage synthesizes the full narration. It returns overrun=true when
// the produced audio exceeds the duration ceiling, which sends the job back
// to script regeneration.
func (o *Orchestrator) audioStage(ctx context.Context, job *Job, doc *script.Document, log *logger.Logger) (bool, error) {
	if err := o.advance(ctx, job, StageAudioPending); err != nil {
		return false, err
	}

	text := narration(doc)
	var audio []byte
	var duration time.Duration
	attempts, err := retry.Do(ctx, log, opAudio, o.policy, func(ctx context.Context) error {
		a, d, synthErr := o.deps.Speech.Synthesize(ctx, text)
		if synthErr != nil {
			return synthErr
		}
		audio, duration = a, d
		return nil
	}, errors.IsRetryable)
	job.Attempts[opAudio] += attempts
	if err != nil {
		return false, err
	}

	path, err := o.deps.Artifacts.SaveAudio(job.ID, audio)
	if err != nil {
		return false, err
	}
	job.Artifacts.AudioPath = path

	maxDuration := time.Duration(o.cfg.Script.MaxDurationSec) * time.Second
	if duration > maxDuration {
		log.Info("audio exceeds ceiling", "duration", duration.Seconds(), "max", maxDuration.Seconds())
		return true, nil
	}

	job.audioDuration = duration
	return false, o.advance(ctx, job, StageAudioComplete)
}

func (o *Orchestrator) renderStage(ctx context.Context, job *Job, doc *script.Document, log *logger.Logger) error {
	if err := o.advance(ctx, job, StageRenderPending); err != nil {
		return err
	}

	spec := render.Spec{
		JobID:      job.ID,
		Scenes:     sceneTimings(doc, job.Artifacts.ImagePaths, job.audioDuration),
		AudioPath:  job.Artifacts.AudioPath,
		Width:      o.cfg.Media.Width,
		Height:     o.cfg.Media.Height,
		FPS:        30,
		OutputPath: o.deps.Artifacts.VideoPath(job.ID),
	}

	var videoPath string
	attempts, err := retry.Do(ctx, log, opRender, o.policy, func(ctx context.Context) error {
		p, renderErr := o.deps.Renderer.Render(ctx, spec)
		if renderErr != nil {
			return renderErr
		}
		videoPath = p
		return nil
	}, errors.IsRetryable)
	job.Attempts[opRender] += attempts
	if err != nil {
		return err
	}
	job.Artifacts.VideoPath = videoPath

	return o.advance(ctx, job, StageRenderComplete)
}

func (o *Orchestrator) publishStage(ctx context.Context, job *Job, doc *script.Document, log *logger.Logger) error {
	meta := publish.Metadata{
		Title:       doc.Title,
		Description: doc.Description,
		Tags:        append(append([]string{}, doc.Tags...), o.cfg.Publish.DefaultTags...),
	}

	var result *publish.Result
	attempts, err := retry.Do(ctx, log, opPublish, o.policy, func(ctx context.Context) error {
		r, upErr := o.deps.Publisher.Upload(ctx, job.Artifacts.VideoPath, meta)
		if upErr != nil {
			return upErr
		}
		result = r
		return nil
	}, errors.IsRetryable)
	job.Attempts[opPublish] += attempts
	if err != nil {
		return err
	}

	job.Artifacts.VideoID = result.VideoID
	job.Artifacts.VideoURL = result.URL
	return o.advance(ctx, job, StagePublished)
}

// advance moves the job to the next stage after confirming it has not been
// cancelled. The failed stage is recorded by fail, not here.
func (o *Orchestrator) advance(ctx context.Context, job *Job, next Stage) error {
	if cancelled, err := o.checkCancelled(ctx, job); err != nil {
		return err
	} else if cancelled {
		return errors.Cancelled("job cancelled at stage boundary")
	}

	job.Stage = next
	job.UpdatedAt = time.Now().UTC()
	if err := o.deps.Sink.Update(ctx, job); err != nil {
		return errors.Wrap(err, "pipeline.advance", "persist job state")
	}
	return nil
}

func (o *Orchestrator) checkCancelled(ctx context.Context, job *Job) (bool, error) {
	cancelled, err := o.deps.Sink.Cancelled(ctx, job.ID)
	if err != nil {
		// A flaky cancellation probe must not kill the job.
		o.log.WithJobID(job.ID).WithError(err).Warn("cancellation check failed")
		return false, nil
	}
	return cancelled, nil
}

// fail parks the job in the failed stage with the stage name and reason
// recorded. Artifacts already produced stay on the job.
func (o *Orchestrator) fail(ctx context.Context, job *Job, stage string, cause error, log *logger.Logger) error {
	job.Stage = StageFailed
	job.FailedStage = stage
	if errors.IsCode(cause, errors.CodeCancelled) {
		job.Reason = ReasonCancelled
	} else {
		job.Reason = cause.Error()
	}
	job.UpdatedAt = time.Now().UTC()

	if err := o.deps.Sink.Update(ctx, job); err != nil {
		log.WithError(err).Error("failed to persist job failure")
	}
	log.WithError(cause).Error("job failed", "stage", stage, "reason", job.Reason)
	return cause
}

// shrinkBudget lowers the word budget for the next generation attempt.
func shrinkBudget(cons *script.Constraints) {
	next := cons.MaxTotalWords * 8 / 10
	if next < cons.MinTotalWords {
		next = cons.MinTotalWords
	}
	cons.MaxTotalWords = next
}

func narration(doc *script.Document) string {
	parts := make([]string, 0, len(doc.Scenes))
	for _, s := range doc.Scenes {
		parts = append(parts, s.Voiceover)
	}
	return strings.Join(parts, " ")
}

// sceneTimings splits the audio track across scenes in proportion to each
// scene's word count so images stay on screen while their text is spoken.
func sceneTimings(doc *script.Document, imagePaths []string, audio time.Duration) []render.SceneInput {
	total := doc.WordCount()
	if total == 0 {
		total = 1
	}

	out := make([]render.SceneInput, 0, len(doc.Scenes))
	elapsed := 0.0
	for i, s := range doc.Scenes {
		share := float64(s.WordCount()) / float64(total)
		end := elapsed + audio.Seconds()*share
		if i == len(doc.Scenes)-1 {
			end = audio.Seconds()
		}
		path := ""
		if i < len(imagePaths) {
			path = imagePaths[i]
		}
		out = append(out, render.SceneInput{ImagePath: path, StartSec: elapsed, EndSec: end})
		elapsed = end
	}
	return out
}
