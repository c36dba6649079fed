// Package app wires configuration, stores and providers for the CLI.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"crafter/internal/character"
	"crafter/internal/imagegen"
	"crafter/internal/infra"
	"crafter/internal/notify"
	"crafter/internal/project"
	imageprov "crafter/internal/providers/image"
	"crafter/internal/providers/text"
	"crafter/internal/settings"
	"crafter/internal/storage"
)

const (
	settingsDBName = "settings.db"
	projectsDir    = "projects"
)

// App holds the long lived collaborators of one CLI invocation.
type App struct {
	Config   *infra.Config
	Logger   *infra.Logger
	Notifier notify.Notifier
	// Notifications keeps what was sent through Notifier until it expires.
	Notifications *notify.Center

	Settings *settings.Store
	Files    *storage.FileStore
	Projects *project.Service
}

// New opens the settings store and project directory under cfg.DataDir.
// Every notification goes to notifier, which may be nil, and to the app's Center.
func New(cfg *infra.Config, logger *infra.Logger, notifier notify.Notifier) (*App, error) {
	center := notify.NewCenter(cfg.NotificationTTL)
	a := &App{
		Config:        cfg,
		Logger:        infra.LoggerOrDiscard(logger),
		Notifier:      notify.Multi{notifier, center},
		Notifications: center,
	}

	store, err := settings.OpenStore(filepath.Join(cfg.DataDir, settingsDBName), a.Logger)
	if err != nil {
		return nil, fmt.Errorf("init settings store: %w", err)
	}
	a.Settings = store

	files, err := storage.NewFileStore(filepath.Join(cfg.DataDir, projectsDir))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init project storage: %w", err)
	}
	a.Files = files
	a.Projects = project.NewService(files, project.Options{Notifier: a.Notifier, Logger: a.Logger})

	a.Logger.Debug().Str("data_dir", cfg.DataDir).Msg("app: initialized")
	return a, nil
}

// Close releases the settings database.
func (a *App) Close() error {
	if a.Settings == nil {
		return nil
	}
	return a.Settings.Close()
}

// LoadSettings returns the stored settings, or the defaults when none are stored.
func (a *App) LoadSettings(ctx context.Context) (settings.Settings, error) {
	s, _, err := a.Settings.Load(ctx)
	return s, err
}

// TextGenerator builds the backend selected by s. The returned closer is never nil.
func (a *App) TextGenerator(ctx context.Context, s settings.Settings) (text.Generator, func() error, error) {
	noop := func() error { return nil }
	switch s.LLMAPIProvider {
	case settings.ProviderGoogle:
		key := strings.TrimSpace(s.LLMAPIKey)
		if key == "" {
			key = a.Config.GeminiAPIKey
		}
		g, err := text.NewGemini(ctx, text.GeminiOptions{APIKey: key, Logger: a.Logger})
		if err != nil {
			return nil, noop, err
		}
		return g, g.Close, nil
	case settings.ProviderThirdParty:
		o, err := a.openAI(s)
		if err != nil {
			return nil, noop, err
		}
		return o, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported llm provider %q", s.LLMAPIProvider)
	}
}

// ListModels enumerates the models of the third-party text backend.
func (a *App) ListModels(ctx context.Context, s settings.Settings) ([]string, error) {
	o, err := a.openAI(s)
	if err != nil {
		return nil, err
	}
	return o.ListModels(ctx)
}

func (a *App) openAI(s settings.Settings) (*text.OpenAI, error) {
	return text.NewOpenAI(text.OpenAIOptions{APIKey: s.LLMAPIKey, BaseURL: s.LLMAPIURL, Logger: a.Logger})
}

// Coordinator builds an image coordinator for the provider selected by s.
func (a *App) Coordinator(s settings.Settings) (*imagegen.Coordinator, error) {
	provider, err := imageprov.NewProvider(s, imageprov.Environment{
		RelayBaseURL:  a.Config.RelayBaseURL,
		GeminiBaseURL: a.Config.GeminiBaseURL,
		GeminiAPIKey:  a.Config.GeminiAPIKey,
		Logger:        a.Logger,
	})
	if err != nil {
		return nil, err
	}
	return imagegen.NewCoordinator(provider, imagegen.Options{Notifier: a.Notifier, Logger: a.Logger}), nil
}

// Pipeline builds the text and image pipeline for s. Call the closer when done.
func (a *App) Pipeline(ctx context.Context, s settings.Settings, withImages bool) (*character.Pipeline, func() error, error) {
	gen, closeText, err := a.TextGenerator(ctx, s)
	if err != nil {
		// Image-only runs do not need a text backend.
		if !withImages {
			return nil, closeText, err
		}
		textErr := err
		gen = text.GeneratorFunc(func(context.Context, string, string, string) (string, error) { return "", textErr })
	}
	var coord *imagegen.Coordinator
	if withImages {
		if coord, err = a.Coordinator(s); err != nil {
			closeText()
			return nil, func() error { return nil }, err
		}
	}
	p := character.NewPipeline(gen, character.PipelineOptions{Images: coord, Notifier: a.Notifier, Logger: a.Logger})
	return p, closeText, nil
}
