package text

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"crafter/internal/infra"
)

// GeminiOptions configures the Gemini backend.
type GeminiOptions struct {
	APIKey string
	Logger *infra.Logger
}

// Gemini generates text through the Google Gemini API.
type Gemini struct {
	client *genai.Client
	logger *infra.Logger
}

// NewGemini creates a Gemini backend. The API key is required.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("text: create gemini client: %w", err)
	}
	return &Gemini{client: client, logger: infra.LoggerOrDiscard(opts.Logger)}, nil
}

// GenerateText sends userInput with systemPrompt as the system instruction.
func (g *Gemini) GenerateText(ctx context.Context, model, systemPrompt, userInput string) (string, error) {
	m := g.client.GenerativeModel(model)
	m.SetTemperature(Temperature)
	if strings.TrimSpace(systemPrompt) != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	resp, err := m.GenerateContent(ctx, genai.Text(userInput))
	if err != nil {
		return "", fmt.Errorf("text: gemini generate: %w", err)
	}
	out, err := responseText(resp)
	if err != nil {
		return "", err
	}
	g.logger.Debug().
		Str("model", model).
		Int("chars", len(out)).
		Msg("text: gemini generated")
	return out, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}
