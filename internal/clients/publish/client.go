// Package publish uploads finished videos to YouTube via the Data API v3.
package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"shortform/internal/pkg/errors"
)

type Config struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	CategoryID      string
	Privacy         string
	MadeForKids     bool
	DefaultLanguage string
}

// Metadata carries the listing details for an upload.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
}

// Result identifies the published video.
type Result struct {
	VideoID string
	URL     string
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.CategoryID == "" {
		cfg.CategoryID = "24" // Entertainment
	}
	if cfg.Privacy == "" {
		cfg.Privacy = "public"
	}
	return &Client{cfg: cfg}
}

// Upload publishes the video file and returns the assigned video ID.
func (c *Client) Upload(ctx context.Context, videoPath string, meta Metadata) (*Result, error) {
	const op = "publish.Upload"

	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" || c.cfg.RefreshToken == "" {
		return nil, errors.New(errors.CodeUnauthenticated, "youtube credentials not configured")
	}

	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: c.cfg.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}

	httpClient := oauth2.NewClient(ctx, conf.TokenSource(ctx, token))
	svc, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeServiceError, op, "create youtube service")
	}

	video := c.videoResource(meta)

	f, err := os.Open(videoPath)
	if err != nil {
		return nil, errors.Wrap(err, op, "open video file")
	}
	defer f.Close()

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return nil, classifyUploadError(op, err)
	}

	return &Result{
		VideoID: uploaded.Id,
		URL:     fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id),
	}, nil
}

// videoResource builds the API resource for an upload. Listing details
// come from the metadata, compliance settings from config.
func (c *Client) videoResource(meta Metadata) *youtube.Video {
	return &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:           meta.Title,
			Description:     meta.Description,
			Tags:            meta.Tags,
			CategoryId:      c.cfg.CategoryID,
			DefaultLanguage: c.cfg.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           c.cfg.Privacy,
			SelfDeclaredMadeForKids: c.cfg.MadeForKids,
		},
	}
}

// classifyUploadError distinguishes the daily quota ceiling, which is fatal
// until the next reset, from transient API failures worth retrying.
func classifyUploadError(op string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return errors.WrapWithCode(err, errors.CodeServiceError, op, "youtube upload failed")
	}

	for _, item := range apiErr.Errors {
		if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" || item.Reason == "uploadLimitExceeded" {
			return errors.QuotaExceeded(op, item.Message)
		}
	}

	switch {
	case apiErr.Code == 401 || apiErr.Code == 403:
		return errors.New(errors.CodeUnauthenticated, "youtube API rejected credentials")
	case apiErr.Code == 429:
		return errors.ResourceExhausted(op, "youtube API rate limited")
	case apiErr.Code >= 500:
		return errors.WrapWithCode(err, errors.CodeServiceError, op, "youtube API server error")
	default:
		return errors.WrapWithCode(err, errors.CodeServiceError, op, "youtube upload failed")
	}
}
