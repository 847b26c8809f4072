package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
)

// GenerationStatus is the status document returned by asynchronous video providers.
type GenerationStatus struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	VideoURL string  `json:"video_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func (s *GenerationStatus) done() bool {
	switch s.Status {
	case "completed", "succeeded", "success":
		return true
	}
	return false
}

func (s *GenerationStatus) failed() bool {
	switch s.Status {
	case "failed", "error", "cancelled", "canceled":
		return true
	}
	return false
}

// Poll calls fetch every interval until the provider reports a terminal status or maxWait elapses.
func Poll(ctx context.Context, logger *zap.Logger, service, id string, interval, maxWait time.Duration, fetch func(context.Context) (*GenerationStatus, error)) (*GenerationStatus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for maxWait <= 0 || time.Now().Before(deadline) {
		attempt++
		result, err := fetch(ctx)
		if err != nil {
			logger.Warn("poll failed", zap.String("service", service), zap.String("request_id", id), zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}

		logger.Debug("poll", zap.String("service", service), zap.String("request_id", id), zap.Int("attempt", attempt), zap.String("status", result.Status))

		switch {
		case result.done():
			if result.VideoURL == "" {
				return nil, apperr.GenerationFailed(fmt.Sprintf("%s returned no video", service), nil)
			}
			return result, nil
		case result.failed():
			reason := result.Error
			if reason == "" {
				reason = result.Status
			}
			return nil, apperr.GenerationFailed(fmt.Sprintf("%s generation failed: %s", service, reason), nil).
				WithDetail("request_id", id)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, apperr.GenerationFailed(fmt.Sprintf("%s generation timed out after %v", service, maxWait), nil).
		WithDetail("request_id", id)
}
