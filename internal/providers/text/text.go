// Package text wraps the chat/completion backends used by the character steps.
package text

import (
	"context"
	"errors"
)

// Temperature is used for every generation call.
const Temperature = 0.8

var (
	ErrMissingAPIKey = errors.New("text: api key is required")
	ErrMissingConfig = errors.New("text: third-party API URL or API key is not configured")
	ErrAuthFailed    = errors.New("Authentication failed. Check your API Key.")
	ErrEmptyResponse = errors.New("text: model returned no text")
)

// Generator produces text from a system instruction and user input. Calls are
// not retried.
type Generator interface {
	GenerateText(ctx context.Context, model, systemPrompt, userInput string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, model, systemPrompt, userInput string) (string, error)

func (f GeneratorFunc) GenerateText(ctx context.Context, model, systemPrompt, userInput string) (string, error) {
	return f(ctx, model, systemPrompt, userInput)
}

// ModelLister is implemented by backends that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}
