// Package speech synthesizes voiceover audio through an HTTP TTS service.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"shortform/internal/pkg/errors"
)

type Config struct {
	BaseURL string
	Voice   string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type synthesizeResponse struct {
	AudioB64        string  `json:"audio_b64"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Synthesize converts text to speech and reports the measured duration of
// the produced audio. The duration comes from the service, not an estimate,
// so the caller can enforce the hard length ceiling against real audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, time.Duration, error) {
	const op = "speech.Synthesize"

	payload, err := json.Marshal(synthesizeRequest{Text: text, Voice: c.cfg.Voice})
	if err != nil {
		return nil, 0, errors.Wrap(err, op, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, errors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, errors.Cancelled("speech request cancelled")
		}
		return nil, 0, errors.WrapWithCode(err, errors.CodeServiceError, op, "speech request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.WrapWithCode(err, errors.CodeServiceError, op, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, 0, errors.New(errors.CodeUnauthenticated, "speech service rejected credentials")
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, 0, errors.ResourceExhausted(op, "speech service rate limited")
		default:
			return nil, 0, errors.ServiceErrorf(op, "speech service returned %d", resp.StatusCode)
		}
	}

	var parsed synthesizeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, errors.WrapWithCode(err, errors.CodeServiceError, op, "decode response")
	}
	if parsed.AudioB64 == "" {
		return nil, 0, errors.ServiceError(op, "speech service returned no audio")
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.AudioB64)
	if err != nil {
		return nil, 0, errors.WrapWithCode(err, errors.CodeServiceError, op, "decode audio payload")
	}

	duration := time.Duration(parsed.DurationSeconds * float64(time.Second))
	return audio, duration, nil
}
