package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/resilience"
)

// LLMClient handles structured completions against an OpenAI-compatible endpoint (Groq by default).
type LLMClient struct {
	client openai.Client
	model  string
	apiKey string
	policy *resilience.Policy
	logger *zap.Logger
}

// NewLLMClient creates a new LLM client. policy may be nil.
func NewLLMClient(cfg *config.LLMConfig, policy *resilience.Policy, logger *zap.Logger) *LLMClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &LLMClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		policy: policy,
		logger: logger.With(zap.String("service", "llm")),
	}
}

// CompleteJSON asks for a JSON document that matches schema and returns it raw.
func (c *LLMClient) CompleteJSON(ctx context.Context, system, user, schemaName string, schema interface{}) (string, error) {
	call := func(ctx context.Context) (string, error) {
		return c.complete(ctx, system, user, schemaName, schema)
	}
	if c.policy == nil {
		return call(ctx)
	}
	return resilience.Execute(ctx, c.policy, call)
}

func (c *LLMClient) complete(ctx context.Context, system, user, schemaName string, schema interface{}) (string, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   schemaName,
		Schema: schema,
		Strict: openai.Bool(true),
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: openai.ChatModel(c.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{
				Service:         "llm",
				Method:          http.MethodPost,
				HTTPStatus:      apiErr.StatusCode,
				ProviderMessage: apiErr.Error(),
			}
		}
		return "", fmt.Errorf("llm request failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := completion.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("llm returned empty response, finish reason: %s", completion.Choices[0].FinishReason)
	}
	c.logger.Debug("completion", zap.String("schema", schemaName), zap.Int("chars", len(content)))
	return content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *LLMClient) IsConfigured() bool {
	return c.apiKey != ""
}
