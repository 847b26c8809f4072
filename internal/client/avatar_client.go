package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/config"
)

// AvatarRequest animates a still image with a voice track.
type AvatarRequest struct {
	ImageURL    string `json:"image_url"`
	AudioURL    string `json:"audio_url"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Model       string `json:"model,omitempty"`
}

// AvatarClient talks to the talking-avatar provider.
type AvatarClient struct {
	apiClient
	model        string
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewAvatarClient(cfg *config.ProviderConfig, logger *zap.Logger) *AvatarClient {
	return &AvatarClient{
		apiClient:    newAPIClient("avatar", cfg, logger),
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
	}
}

// Submit starts an animation job and returns its provider ID.
func (c *AvatarClient) Submit(ctx context.Context, req *AvatarRequest) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	var result GenerationStatus
	if err := c.post(ctx, "/v1/avatar/videos", req, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("avatar provider returned no job id")
	}
	return result.ID, nil
}

// GetStatus retrieves the status of an animation job
func (c *AvatarClient) GetStatus(ctx context.Context, id string) (*GenerationStatus, error) {
	var result GenerationStatus
	if err := c.get(ctx, fmt.Sprintf("/v1/avatar/videos/%s", id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *AvatarClient) PollInterval() time.Duration { return c.pollInterval }
func (c *AvatarClient) MaxWait() time.Duration      { return c.maxWait }
