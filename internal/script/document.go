// Package script turns free-form language-model output into a validated
// script document for one short-form video. The repair parser tolerates
// the truncation and embedded control characters typical of model output;
// the validator enforces the semantic bounds the rest of the pipeline
// depends on.
package script

import (
	"strings"
	"time"
)

// Scene is one visual/narration unit of a script.
type Scene struct {
	ID          int    `json:"id"`
	ImagePrompt string `json:"image_prompt"`
	Voiceover   string `json:"voiceover"`
}

// WordCount returns the number of voiceover words in the scene.
func (s Scene) WordCount() int {
	return len(strings.Fields(s.Voiceover))
}

// Document is a complete generated script.
type Document struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Scenes      []Scene  `json:"scenes"`
}

// WordCount returns the total voiceover word count across all scenes.
func (d *Document) WordCount() int {
	total := 0
	for _, s := range d.Scenes {
		total += s.WordCount()
	}
	return total
}

// EstimatedDuration estimates narration length from word count at a fixed
// speaking rate.
func (d *Document) EstimatedDuration(wordsPerMinute int) time.Duration {
	if wordsPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(d.WordCount()) * float64(time.Minute) / float64(wordsPerMinute))
}
