package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/config"
)

// SpeechRequest asks the TTS provider to voice one line.
type SpeechRequest struct {
	Text             string `json:"text"`
	VoiceID          string `json:"voice_id,omitempty"`
	VoiceDescription string `json:"voice_description,omitempty"`
	Model            string `json:"model,omitempty"`
	Format           string `json:"format"`
}

// SpeechResult is synthesized audio.
type SpeechResult struct {
	Audio       []byte
	ContentType string
	RequestID   string
}

// SpeechClient talks to the text-to-speech provider.
type SpeechClient struct {
	apiClient
	model string
}

func NewSpeechClient(cfg *config.ProviderConfig, logger *zap.Logger) *SpeechClient {
	return &SpeechClient{
		apiClient: newAPIClient("speech", cfg, logger),
		model:     cfg.Model,
	}
}

// Synthesize returns the audio for req.Text.
func (c *SpeechClient) Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResult, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Format == "" {
		req.Format = "mp3"
	}
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	body, header, err := c.doRequest(httpReq)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("speech provider returned empty audio")
	}

	contentType := header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "audio/mpeg"
	}
	return &SpeechResult{
		Audio:       body,
		ContentType: contentType,
		RequestID:   header.Get("X-Request-Id"),
	}, nil
}
