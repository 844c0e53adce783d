// Package media generates scene images through a diffusion backend with
// memory-pressure fallback: on an out-of-memory signal the generator
// drops to a fraction of the target resolution for the rest of the job
// and upscales results back, so downstream stages never see a mismatch.
package media

import (
	"context"
	"strings"

	"shortform/internal/pkg/errors"
	"shortform/internal/pkg/logger"
)

// Backend is the diffusion collaborator. It holds exclusive access to a
// single accelerator device; Reset clears its cache when the media stage
// releases it.
type Backend interface {
	GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error)
	Reset(ctx context.Context) error
}

// Options configure one job's generator. Degraded seeds the fallback
// state, so a job that already dropped resolution in an earlier media
// pass stays degraded when a new generator is built for it.
type Options struct {
	Width           int
	Height          int
	DegradeFraction float64
	Degraded        bool
}

// Generator produces images for one job. The degraded flag is set at most
// once per job and never reset, so borderline memory pressure cannot cause
// full/degraded oscillation.
type Generator struct {
	backend  Backend
	opts     Options
	degraded bool
	log      *logger.Logger
}

func New(backend Backend, opts Options, log *logger.Logger) *Generator {
	if opts.DegradeFraction <= 0 || opts.DegradeFraction > 1 {
		opts.DegradeFraction = 0.70
	}
	return &Generator{
		backend:  backend,
		opts:     opts,
		degraded: opts.Degraded,
		log:      log.WithComponent("media"),
	}
}

// Degraded reports whether the job has dropped to reduced resolution.
func (g *Generator) Degraded() bool {
	return g.degraded
}

// Generate produces one image at exactly opts.Width x opts.Height. The
// first out-of-memory failure flips the generator into degraded mode and
// is returned as retryable RESOURCE_EXHAUSTED; the retried attempt then
// renders at reduced size and upscales.
func (g *Generator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if !g.degraded {
		img, err := g.backend.GenerateImage(ctx, prompt, g.opts.Width, g.opts.Height)
		if err == nil {
			return img, nil
		}
		if !isMemoryPressure(err) {
			return nil, err
		}

		g.degraded = true
		g.log.Warn("memory pressure detected, degrading resolution for remainder of job",
			"fraction", g.opts.DegradeFraction,
			"error", err.Error(),
		)
		return nil, errors.WrapWithCode(err, errors.CodeResourceExhausted,
			"media.generate", "out of memory at full resolution")
	}

	w := snapDown(int(float64(g.opts.Width) * g.opts.DegradeFraction))
	h := snapDown(int(float64(g.opts.Height) * g.opts.DegradeFraction))

	img, err := g.backend.GenerateImage(ctx, prompt, w, h)
	if err != nil {
		return nil, err
	}

	out, err := Upscale(img, g.opts.Width, g.opts.Height)
	if err != nil {
		return nil, errors.Wrap(err, "media.upscale", "resample to target dimensions")
	}
	return out, nil
}

// isMemoryPressure classifies an error as accelerator memory exhaustion.
// Classification is by code or message pattern, not error identity: the
// backend may be any runtime and each reports OOM differently.
func isMemoryPressure(err error) bool {
	if errors.IsCode(err, errors.CodeResourceExhausted) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range []string{
		"out of memory",
		"outofmemoryerror",
		"oom",
		"cuda error",
		"failed to allocate",
	} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}

// snapDown rounds a dimension down to a multiple of 8, the granularity
// diffusion backends require.
func snapDown(v int) int {
	if v < 8 {
		return 8
	}
	return v - v%8
}
