// Package image selects and wires the image provider named by the user settings.
package image

import (
	"fmt"
	"net/http"
	"strings"

	"crafter/internal/imagegen"
	"crafter/internal/infra"
	"crafter/internal/providers/bfl"
	"crafter/internal/providers/imagen"
	"crafter/internal/settings"
)

// Environment carries the process-level endpoints and fallback credentials.
type Environment struct {
	RelayBaseURL  string
	GeminiBaseURL string
	GeminiAPIKey  string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	Retry         imagegen.RetryPolicy
}

// credentialed is satisfied by both provider clients.
type credentialed interface {
	imagegen.Provider
	HasCredentials() bool
	Model() string
}

// NewProvider builds the provider for cfg wrapped with submit retries. A
// provider without credentials is still returned; its Submit fails terminally.
func NewProvider(cfg settings.Settings, env Environment) (imagegen.Provider, error) {
	client, err := newClient(cfg, env)
	if err != nil {
		return nil, err
	}
	logger := infra.LoggerOrDiscard(env.Logger)
	if !client.HasCredentials() {
		logger.Warn().
			Str("provider", string(cfg.ImageAPIProvider)).
			Msg("image: provider has no api key configured")
	}
	policy := env.Retry
	if policy.MaxAttempts <= 0 {
		policy = imagegen.DefaultRetryPolicy
	}
	logger.Debug().
		Str("provider", string(cfg.ImageAPIProvider)).
		Str("model", client.Model()).
		Msg("image: provider ready")
	return imagegen.WithRetry(client, policy, env.Logger), nil
}

func newClient(cfg settings.Settings, env Environment) (credentialed, error) {
	switch cfg.ImageAPIProvider {
	case settings.ProviderGoogle:
		key := strings.TrimSpace(cfg.ImageAPIKey)
		if key == "" {
			key = strings.TrimSpace(env.GeminiAPIKey)
		}
		return imagen.NewClient(imagen.Options{
			APIKey:     key,
			BaseURL:    env.GeminiBaseURL,
			Model:      cfg.ImageModel,
			HTTPClient: env.HTTPClient,
			Logger:     env.Logger,
		}), nil
	case settings.ProviderThirdParty:
		return bfl.NewClient(bfl.Options{
			APIKey:     cfg.ImageAPIKey,
			BaseURL:    BFLBaseURL(cfg, env),
			Model:      cfg.BFLSettings.Model,
			HTTPClient: env.HTTPClient,
			Logger:     env.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("image: unsupported provider %q", cfg.ImageAPIProvider)
	}
}

// BFLBaseURL returns the explicit image API URL when set, otherwise the relay's BFL route.
func BFLBaseURL(cfg settings.Settings, env Environment) string {
	if u := strings.TrimRight(strings.TrimSpace(cfg.ImageAPIURL), "/"); u != "" {
		return u
	}
	relay := strings.TrimRight(strings.TrimSpace(env.RelayBaseURL), "/")
	if relay == "" {
		return bfl.DefaultBaseURL
	}
	return relay + "/api/bfl"
}
