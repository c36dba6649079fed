// Package settings holds the user's provider, model and prompt configuration,
// its defaults, validation and the versioned on-disk record.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"crafter/internal/imagegen"
	"crafter/internal/providers/bfl"
)

// Provider selects which backend serves a generation concern.
type Provider string

const (
	ProviderGoogle     Provider = "google"
	ProviderThirdParty Provider = "third-party"
)

func (p Provider) valid() bool {
	return p == ProviderGoogle || p == ProviderThirdParty
}

const (
	DefaultLLMModel   = "gemini-2.5-flash"
	DefaultImageModel = "imagen-4.0-generate-001"
)

// BFLSettings are the options specific to the Black Forest Labs provider.
type BFLSettings struct {
	Model            string `json:"model"`
	PromptUpsampling bool   `json:"promptUpsampling"`
	SafetyTolerance  int    `json:"safetyTolerance"`
}

// Settings is the complete user configuration.
type Settings struct {
	LLMAPIProvider Provider `json:"llmApiProvider"`
	LLMModel       string   `json:"llmModel"`
	LLMAPIURL      string   `json:"llmApiUrl"`
	LLMAPIKey      string   `json:"llmApiKey"`

	ImageAPIProvider Provider `json:"imageApiProvider"`
	ImageModel       string   `json:"imageModel"`
	ImageAPIURL      string   `json:"imageApiUrl"`
	ImageAPIKey      string   `json:"imageApiKey"`

	ImageAspectRatio imagegen.AspectRatio `json:"imageAspectRatio"`
	ProfilePrompt    string               `json:"profilePrompt"`
	CardPrompt       string               `json:"cardPrompt"`
	PromptPrompt     string               `json:"promptPrompt"`

	BFLSettings BFLSettings `json:"bflSettings"`
}

// Defaults returns a fresh copy of the default configuration.
func Defaults() Settings {
	return Settings{
		LLMAPIProvider:   ProviderGoogle,
		LLMModel:         DefaultLLMModel,
		ImageAPIProvider: ProviderGoogle,
		ImageModel:       DefaultImageModel,
		ImageAspectRatio: imagegen.AspectSquare,
		ProfilePrompt:    DefaultProfilePrompt,
		CardPrompt:       DefaultCardPrompt,
		PromptPrompt:     DefaultPromptPrompt,
		BFLSettings: BFLSettings{
			Model:            bfl.DefaultModel,
			PromptUpsampling: false,
			SafetyTolerance:  bfl.MaxSafetyTolerance,
		},
	}
}

// Merge overlays the fields present in raw onto base. Nested objects such as
// bflSettings are merged field by field, so partial documents keep defaults.
func Merge(base Settings, raw json.RawMessage) (Settings, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return base, nil
	}
	merged := base
	if err := json.Unmarshal(raw, &merged); err != nil {
		return base, fmt.Errorf("settings: merge: %w", err)
	}
	return merged, nil
}

// ValidationError lists every problem found in a Settings value.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "settings: invalid: " + strings.Join(e.Problems, "; ")
}

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("settings: invalid")

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Validate returns a *ValidationError describing every problem, or nil.
func Validate(s Settings) error {
	var problems []string
	if !s.LLMAPIProvider.valid() {
		problems = append(problems, "Invalid LLM API provider")
	}
	if !s.ImageAPIProvider.valid() {
		problems = append(problems, "Invalid Image API provider")
	}
	if s.LLMAPIProvider == ProviderThirdParty {
		if strings.TrimSpace(s.LLMAPIURL) == "" {
			problems = append(problems, "LLM API URL is required for third-party provider")
		}
		if strings.TrimSpace(s.LLMAPIKey) == "" {
			problems = append(problems, "LLM API Key is required for third-party provider")
		}
	}
	if s.ImageAPIProvider == ProviderThirdParty && strings.TrimSpace(s.ImageAPIKey) == "" {
		problems = append(problems, "BFL API Key is required for third-party provider")
	}
	if _, err := s.ImageAspectRatio.Dimensions(); err != nil {
		problems = append(problems, "Invalid aspect ratio")
	}
	if !bfl.IsKnownModel(s.BFLSettings.Model) {
		problems = append(problems, "Invalid BFL model")
	}
	if t := s.BFLSettings.SafetyTolerance; t < bfl.MinSafetyTolerance || t > bfl.MaxSafetyTolerance {
		problems = append(problems, "BFL safety tolerance must be a number between 1 and 6")
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// ImageRequest builds the provider-neutral image request for prompt. The
// model is the BFL model when the third-party provider is selected.
func (s Settings) ImageRequest(prompt string) imagegen.Request {
	req := imagegen.Request{
		Prompt:          prompt,
		Model:           s.ImageModel,
		AspectRatio:     s.ImageAspectRatio,
		SafetyTolerance: s.BFLSettings.SafetyTolerance,
	}
	if s.ImageAPIProvider == ProviderThirdParty {
		req.Model = s.BFLSettings.Model
		req.PromptUpsampling = s.BFLSettings.PromptUpsampling
	}
	return req
}

// Redacted returns a copy with API keys masked for display.
func (s Settings) Redacted() Settings {
	s.LLMAPIKey = mask(s.LLMAPIKey)
	s.ImageAPIKey = mask(s.ImageAPIKey)
	return s
}

func mask(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
