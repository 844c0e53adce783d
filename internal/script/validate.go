package script

import (
	"fmt"
	"time"
)

// Reason is a machine-readable rejection reason. The orchestrator uses it
// to decide whether to regenerate with adjusted constraints or abort.
type Reason string

const (
	ReasonMissingField       Reason = "MissingField"
	ReasonSceneCountMismatch Reason = "SceneCountMismatch"
	ReasonSceneIDInvalid     Reason = "SceneIDInvalid"
	ReasonTooFewWords        Reason = "TooFewWords"
	ReasonTooManyWords       Reason = "TooManyWords"
	ReasonDurationExceeded   Reason = "DurationExceeded"
)

// Rejection explains why a document failed validation.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Regenerable reports whether a new generation attempt with adjusted
// constraints could plausibly fix the rejection. All current reasons are
// regenerable; the distinction exists so the orchestrator reads intent,
// not a constant.
func (r *Rejection) Regenerable() bool {
	return r != nil
}

// ShrinkBudget reports whether the rejection calls for a smaller word
// budget on the next generation attempt.
func (r *Rejection) ShrinkBudget() bool {
	return r != nil && (r.Reason == ReasonTooManyWords || r.Reason == ReasonDurationExceeded)
}

// Limits holds the semantic bounds a script document must satisfy.
type Limits struct {
	SceneCount       int
	MinWordsPerScene int
	MaxWordsPerScene int
	MinTotalWords    int
	MaxTotalWords    int
	WordsPerMinute   int
	MaxDuration      time.Duration
}

// Validate checks a parsed document against the limits. Checks run in
// order and short-circuit on the first failure; nil means the document
// passed. Syntactic validity is the repair parser's concern, not this
// function's.
func Validate(doc *Document, lim Limits) *Rejection {
	if doc.Title == "" {
		return &Rejection{ReasonMissingField, "title is empty"}
	}
	if doc.Description == "" {
		return &Rejection{ReasonMissingField, "description is empty"}
	}
	if len(doc.Scenes) == 0 {
		return &Rejection{ReasonMissingField, "no scenes"}
	}
	if len(doc.Scenes) != lim.SceneCount {
		return &Rejection{ReasonSceneCountMismatch,
			fmt.Sprintf("got %d scenes, want %d", len(doc.Scenes), lim.SceneCount)}
	}

	// Scene ids must form the set 1..N, in any order; the orchestrator
	// sorts before rendering.
	seen := make(map[int]bool, len(doc.Scenes))
	for i, s := range doc.Scenes {
		if s.ID < 1 || s.ID > len(doc.Scenes) {
			return &Rejection{ReasonSceneIDInvalid,
				fmt.Sprintf("scene %d: id %d out of range 1..%d", i+1, s.ID, len(doc.Scenes))}
		}
		if seen[s.ID] {
			return &Rejection{ReasonSceneIDInvalid, fmt.Sprintf("duplicate scene id %d", s.ID)}
		}
		seen[s.ID] = true
	}

	for i, s := range doc.Scenes {
		if s.ImagePrompt == "" {
			return &Rejection{ReasonMissingField, fmt.Sprintf("scene %d: image_prompt is empty", i+1)}
		}
		if s.Voiceover == "" {
			return &Rejection{ReasonMissingField, fmt.Sprintf("scene %d: voiceover is empty", i+1)}
		}
		words := s.WordCount()
		if lim.MinWordsPerScene > 0 && words < lim.MinWordsPerScene {
			return &Rejection{ReasonTooFewWords,
				fmt.Sprintf("scene %d: %d words, min %d", i+1, words, lim.MinWordsPerScene)}
		}
		if lim.MaxWordsPerScene > 0 && words > lim.MaxWordsPerScene {
			return &Rejection{ReasonTooManyWords,
				fmt.Sprintf("scene %d: %d words, max %d", i+1, words, lim.MaxWordsPerScene)}
		}
	}

	total := doc.WordCount()
	if lim.MinTotalWords > 0 && total < lim.MinTotalWords {
		return &Rejection{ReasonTooFewWords,
			fmt.Sprintf("%d total words, min %d", total, lim.MinTotalWords)}
	}
	if lim.MaxTotalWords > 0 && total > lim.MaxTotalWords {
		return &Rejection{ReasonTooManyWords,
			fmt.Sprintf("%d total words, max %d", total, lim.MaxTotalWords)}
	}

	if lim.MaxDuration > 0 {
		if est := doc.EstimatedDuration(lim.WordsPerMinute); est > lim.MaxDuration {
			return &Rejection{ReasonDurationExceeded,
				fmt.Sprintf("estimated %.1fs narration, max %.0fs",
					est.Seconds(), lim.MaxDuration.Seconds())}
		}
	}

	return nil
}
