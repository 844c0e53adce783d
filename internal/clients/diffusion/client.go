// Package diffusion drives a Stable Diffusion web UI compatible image server.
package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"shortform/internal/pkg/errors"
)

type Config struct {
	BaseURL string
	Steps   int
	Sampler string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Steps == 0 {
		cfg.Steps = 30
	}
	if cfg.Sampler == "" {
		cfg.Sampler = "DPM++ 2M"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type txt2imgRequest struct {
	Prompt      string `json:"prompt"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Steps       int    `json:"steps"`
	SamplerName string `json:"sampler_name"`
	BatchSize   int    `json:"batch_size"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Errors string `json:"errors"`
}

// GenerateImage renders one PNG at the requested dimensions.
func (c *Client) GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error) {
	const op = "diffusion.GenerateImage"

	payload, err := json.Marshal(txt2imgRequest{
		Prompt:      prompt,
		Width:       width,
		Height:      height,
		Steps:       c.cfg.Steps,
		SamplerName: c.cfg.Sampler,
		BatchSize:   1,
	})
	if err != nil {
		return nil, errors.Wrap(err, op, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sdapi/v1/txt2img", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled("image request cancelled")
		}
		return nil, errors.WrapWithCode(err, errors.CodeServiceError, op, "diffusion request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeServiceError, op, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyFailure(op, resp.StatusCode, body)
	}

	var parsed txt2imgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeServiceError, op, "decode response")
	}
	if len(parsed.Images) == 0 {
		return nil, errors.ServiceError(op, "diffusion returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(parsed.Images[0])
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeServiceError, op, "decode image payload")
	}
	return img, nil
}

// Reset asks the server to reload its checkpoint, releasing accumulated
// GPU allocations between jobs. Failures here are not fatal to the caller.
func (c *Client) Reset(ctx context.Context) error {
	const op = "diffusion.Reset"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sdapi/v1/reload-checkpoint", nil)
	if err != nil {
		return errors.Wrap(err, op, "build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeServiceError, op, "reset request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.ServiceErrorf(op, "reset returned %d", resp.StatusCode)
	}
	return nil
}

// classifyFailure maps server failures onto the error taxonomy. GPU memory
// exhaustion surfaces as a 500 whose body names the allocator failure; that
// case must come back as RESOURCE_EXHAUSTED so the generator can degrade.
func classifyFailure(op string, status int, body []byte) error {
	detail := failureDetail(body)

	if status >= 500 && looksLikeMemoryFailure(detail) {
		return errors.ResourceExhausted(op, detail)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.CodeUnauthenticated, "diffusion server rejected credentials")
	case status == http.StatusTooManyRequests:
		return errors.ResourceExhausted(op, "diffusion server busy")
	case status >= 500:
		return errors.ServiceErrorf(op, "diffusion server error %d: %s", status, detail)
	default:
		return errors.ServiceErrorf(op, "unexpected status %d: %s", status, detail)
	}
}

func failureDetail(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, s := range []string{parsed.Error, parsed.Errors, parsed.Detail} {
			if s != "" {
				return s
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}

func looksLikeMemoryFailure(detail string) bool {
	lower := strings.ToLower(detail)
	for _, pat := range []string{"out of memory", "outofmemoryerror", "oom", "cuda error", "failed to allocate"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}
