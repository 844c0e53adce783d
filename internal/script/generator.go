package script

import (
	"context"
	"fmt"
	"strings"
)

// ModelClient is the language-model collaborator. Implementations classify
// their own transport failures into the coded error taxonomy.
type ModelClient interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Constraints are the generation parameters the orchestrator adjusts
// between regeneration attempts.
type Constraints struct {
	Topic         string // empty means the model picks one
	SceneCount    int
	MaxTotalWords int
	MinTotalWords int
	DurationSec   int
}

// Generator produces candidate script documents from the language model.
type Generator struct {
	client ModelClient
	niche  string
}

func NewGenerator(client ModelClient, niche string) *Generator {
	return &Generator{client: client, niche: niche}
}

// Generate asks the model for a script and parses the response. The raw
// response is always returned, even on parse failure, so the caller can
// persist it for offline inspection.
func (g *Generator) Generate(ctx context.Context, c Constraints) (*Document, string, error) {
	raw, err := g.client.Generate(ctx, g.systemPrompt(c), g.userPrompt(c))
	if err != nil {
		return nil, raw, err
	}

	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, raw, err
	}
	return doc, raw, nil
}

func (g *Generator) systemPrompt(c Constraints) string {
	return fmt.Sprintf(`You are an expert content creator specializing in %s.
You write engaging, educational scripts for vertical short-form video (1080x1920), about %d seconds long when spoken.

Respond with ONLY a valid JSON object, no markdown code blocks, with this exact structure:
{
  "title": "Engaging title (max 100 chars)",
  "description": "Video description with key points",
  "tags": ["tag1", "tag2", "tag3"],
  "scenes": [
    {
      "id": 1,
      "image_prompt": "Detailed visual description for image generation",
      "voiceover": "Clear, concise narration for this scene"
    }
  ]
}

Rules:
- Exactly %d scenes, ids sequential starting at 1
- Total voiceover is %d-%d words
- Use double quotes, escape embedded quotes, no trailing commas
- Keep every string on a single line`,
		g.niche, c.DurationSec, c.SceneCount, c.MinTotalWords, c.MaxTotalWords)
}

func (g *Generator) userPrompt(c Constraints) string {
	var sb strings.Builder
	if c.Topic != "" {
		fmt.Fprintf(&sb, "Create a short-form video script about: %s\n\n", c.Topic)
	} else {
		fmt.Fprintf(&sb, "Create a short-form video script about an interesting topic in: %s\n\n", g.niche)
		sb.WriteString("Choose a specific topic that would be engaging and educational.\n\n")
	}
	fmt.Fprintf(&sb, "Exactly %d scenes. Total voiceover %d-%d words.\n", c.SceneCount, c.MinTotalWords, c.MaxTotalWords)
	sb.WriteString("Respond ONLY with valid JSON. No markdown. No explanation.")
	return sb.String()
}
