package character

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"crafter/internal/imagegen"
	"crafter/internal/infra"
	"crafter/internal/notify"
	"crafter/internal/providers/text"
	"crafter/internal/settings"
)

// Step is one text transformation in the chain idea -> profile -> card -> image prompt.
type Step struct {
	Name   string
	Input  FieldKey
	Output FieldKey
	prompt func(settings.Settings) string
}

// SystemPrompt returns the instruction configured for the step.
func (s Step) SystemPrompt(cfg settings.Settings) string { return s.prompt(cfg) }

var (
	StepProfile = Step{Name: "profile", Input: FieldIdea, Output: FieldProfile,
		prompt: func(s settings.Settings) string { return s.ProfilePrompt }}
	StepCard = Step{Name: "card", Input: FieldProfile, Output: FieldCard,
		prompt: func(s settings.Settings) string { return s.CardPrompt }}
	StepImagePrompt = Step{Name: "image prompt", Input: FieldCard, Output: FieldImagePrompt,
		prompt: func(s settings.Settings) string { return s.PromptPrompt }}
)

// Steps lists the text steps in dependency order.
var Steps = []Step{StepProfile, StepCard, StepImagePrompt}

// ErrEmptyInput is returned when a step's upstream field has no text.
var ErrEmptyInput = errors.New("character: step input is empty")

// StepByName resolves a step from its name or output field.
func StepByName(name string) (Step, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, s := range Steps {
		if n == s.Name || n == strings.ToLower(string(s.Output)) || n == strings.ReplaceAll(s.Name, " ", "-") {
			return s, true
		}
	}
	return Step{}, false
}

// Stale reports whether the step's output predates an edit of its input.
func (d Data) Stale(step Step) bool {
	return d.Field(step.Output).StaleAgainst(*d.Field(step.Input))
}

// Pipeline runs the text steps and the image step against one Data record.
type Pipeline struct {
	text     text.Generator
	images   *imagegen.Coordinator
	notifier notify.Notifier
	logger   *infra.Logger
	now      func() time.Time
	title    cases.Caser
}

// PipelineOptions configures a Pipeline. Images may be nil when only text steps run.
type PipelineOptions struct {
	Images   *imagegen.Coordinator
	Notifier notify.Notifier
	Logger   *infra.Logger
}

// NewPipeline wires a text generator and an optional image coordinator.
func NewPipeline(gen text.Generator, opts PipelineOptions) *Pipeline {
	n := opts.Notifier
	if n == nil {
		n = notify.Discard
	}
	return &Pipeline{
		text:     gen,
		images:   opts.Images,
		notifier: n,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		now:      time.Now,
		title:    cases.Title(language.English),
	}
}

// Generate runs step and stores the result in its output field. Exactly one
// notification is sent whether the step succeeds or fails.
func (p *Pipeline) Generate(ctx context.Context, data *Data, step Step, cfg settings.Settings) error {
	input := data.Field(step.Input).Value
	if strings.TrimSpace(input) == "" {
		err := fmt.Errorf("%w: %s", ErrEmptyInput, step.Input)
		p.notifier.Notify(notify.LevelError, fmt.Sprintf("Error generating %s: %v", step.Name, err))
		return err
	}

	start := p.now()
	out, err := p.text.GenerateText(ctx, cfg.LLMModel, step.SystemPrompt(cfg), input)
	if err != nil {
		p.logger.Warn().Err(err).Str("step", step.Name).Str("model", cfg.LLMModel).Msg("character: step failed")
		p.notifier.Notify(notify.LevelError, fmt.Sprintf("Error generating %s: %v", step.Name, err))
		return fmt.Errorf("character: generate %s: %w", step.Name, err)
	}

	data.Field(step.Output).SetGenerated(out, p.now())
	p.logger.Info().
		Str("step", step.Name).
		Str("model", cfg.LLMModel).
		Dur("took", p.now().Sub(start)).
		Msg("character: step generated")
	p.notifier.Notify(notify.LevelSuccess, p.title.String(step.Name)+" generated successfully.")
	return nil
}

// GenerateAll runs every text step in order and stops at the first failure.
func (p *Pipeline) GenerateAll(ctx context.Context, data *Data, cfg settings.Settings) error {
	for _, step := range Steps {
		if err := p.Generate(ctx, data, step, cfg); err != nil {
			return err
		}
	}
	return nil
}

// GenerateImage submits the image prompt through the coordinator and waits for
// the outcome. Notifications come from the coordinator.
func (p *Pipeline) GenerateImage(ctx context.Context, data *Data, cfg settings.Settings) (imagegen.Outcome, error) {
	if p.images == nil {
		return imagegen.Outcome{}, errors.New("character: no image coordinator configured")
	}
	var out imagegen.Outcome
	select {
	case out = <-p.images.Start(ctx, cfg.ImageRequest(data.ImagePrompt.Value)):
	case <-ctx.Done():
		p.images.Cancel()
		return imagegen.Outcome{}, ctx.Err()
	}
	if out.Err != nil {
		return out, out.Err
	}
	if out.Artifact != nil {
		data.SetImage(*out.Artifact, p.now())
	}
	return out, nil
}
