// Package render submits assembled scenes to the video render service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"shortform/internal/pkg/errors"
)

// SceneInput pairs one image with the audio segment it plays under.
type SceneInput struct {
	ImagePath string  `json:"image_path"`
	StartSec  float64 `json:"start_sec"`
	EndSec    float64 `json:"end_sec"`
}

// Spec describes a complete render job for the service.
type Spec struct {
	JobID      string       `json:"job_id"`
	Scenes     []SceneInput `json:"scenes"`
	AudioPath  string       `json:"audio_path"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	FPS        int          `json:"fps"`
	OutputPath string       `json:"output_path"`
}

type renderResponse struct {
	OutputPath string `json:"output_path"`
	Error      string `json:"error"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Render assembles the final video and returns the path of the produced file.
func (c *Client) Render(ctx context.Context, spec Spec) (string, error) {
	const op = "render.Render"

	payload, err := json.Marshal(spec)
	if err != nil {
		return "", errors.Wrap(err, op, "marshal spec")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Cancelled("render request cancelled")
		}
		return "", errors.WrapWithCode(err, errors.CodeServiceError, op, "render request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeServiceError, op, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.ServiceErrorf(op, "render service returned %d", resp.StatusCode)
	}

	var parsed renderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeServiceError, op, "decode response")
	}
	if parsed.Error != "" {
		return "", errors.ServiceErrorf(op, "render failed: %s", parsed.Error)
	}
	if parsed.OutputPath == "" {
		parsed.OutputPath = spec.OutputPath
	}
	return parsed.OutputPath, nil
}
