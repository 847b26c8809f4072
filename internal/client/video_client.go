package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/config"
)

// VideoRequest asks a self-voicing model for a clip with synchronized speech.
type VideoRequest struct {
	Prompt          string `json:"prompt"`
	ImageURL        string `json:"image_url"`
	DurationSeconds int    `json:"duration_seconds"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Model           string `json:"model,omitempty"`
	GenerateAudio   bool   `json:"generate_audio"`
}

// VideoClient talks to the image-to-video provider.
type VideoClient struct {
	apiClient
	model        string
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewVideoClient(cfg *config.ProviderConfig, logger *zap.Logger) *VideoClient {
	return &VideoClient{
		apiClient:    newAPIClient("video", cfg, logger),
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
	}
}

// Submit starts a generation and returns its provider ID.
func (c *VideoClient) Submit(ctx context.Context, req *VideoRequest) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	var result GenerationStatus
	if err := c.post(ctx, "/v1/videos", req, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("video provider returned no job id")
	}
	return result.ID, nil
}

// GetStatus retrieves the status of a generation
func (c *VideoClient) GetStatus(ctx context.Context, id string) (*GenerationStatus, error) {
	var result GenerationStatus
	if err := c.get(ctx, fmt.Sprintf("/v1/videos/%s", id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *VideoClient) PollInterval() time.Duration { return c.pollInterval }
func (c *VideoClient) MaxWait() time.Duration      { return c.maxWait }
