package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/config"
)

const maxProviderMessage = 512

// ProviderError is a non-2xx answer from an external provider.
type ProviderError struct {
	Service         string
	Method          string
	HTTPStatus      int
	ProviderMessage string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.HTTPStatus, e.ProviderMessage)
}

func (e *ProviderError) StatusCode() int {
	return e.HTTPStatus
}

func (e *ProviderError) RequestMethod() string {
	return e.Method
}

// providerMessage pulls a readable message out of an error body.
func providerMessage(body []byte) string {
	var parsed struct {
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(parsed.Error, &s) == nil && s != "" {
				return s
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Detail != "" {
			return parsed.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxProviderMessage {
		msg = msg[:maxProviderMessage]
	}
	return msg
}

// apiClient is the JSON-over-HTTP plumbing shared by the provider clients.
type apiClient struct {
	service    string
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

func newAPIClient(service string, cfg *config.ProviderConfig, logger *zap.Logger) apiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return apiClient{
		service:    service,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger.With(zap.String("service", service)),
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *apiClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// post sends a POST request with JSON body
func (c *apiClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, _, err := c.doRequest(req)
	if err != nil {
		return err
	}
	return c.decode(req, respBody, result)
}

// get sends a GET request and parses JSON response
func (c *apiClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	respBody, _, err := c.doRequest(req)
	if err != nil {
		return err
	}
	return c.decode(req, respBody, result)
}

func (c *apiClient) decode(req *http.Request, body []byte, result interface{}) error {
	if err := json.Unmarshal(body, result); err != nil {
		c.logger.Warn("failed to unmarshal response",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// doRequest executes an HTTP request and returns the raw body of a 2xx response.
func (c *apiClient) doRequest(req *http.Request) ([]byte, http.Header, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	c.logger.Debug("request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("response",
		zap.Int("status", resp.StatusCode),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &ProviderError{
			Service:         c.service,
			Method:          req.Method,
			HTTPStatus:      resp.StatusCode,
			ProviderMessage: providerMessage(respBody),
		}
	}
	return respBody, resp.Header, nil
}
