package text

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"crafter/internal/infra"
)

// OpenAIOptions configures an OpenAI-compatible backend.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// OpenAI talks to any server implementing the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	logger *infra.Logger
}

// NewOpenAI creates a backend for the server at BaseURL. Both URL and key are required.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	key := strings.TrimSpace(opts.APIKey)
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if key == "" || baseURL == "" {
		return nil, ErrMissingConfig
	}
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = baseURL
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), logger: infra.LoggerOrDiscard(opts.Logger)}, nil
}

// GenerateText runs one chat completion with a system and a user message.
func (o *OpenAI) GenerateText(ctx context.Context, model, systemPrompt, userInput string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userInput},
		},
		Temperature: Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("text: third-party api error: %s: %w", apiErr.Message, err)
		}
		return "", fmt.Errorf("text: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	o.logger.Debug().
		Str("model", model).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("text: chat completion generated")
	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the available model ids in sorted order.
func (o *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.client.ListModels(ctx)
	if err != nil {
		if statusCode(err) == http.StatusUnauthorized {
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("text: failed to fetch models: %w", err)
	}
	ids := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
