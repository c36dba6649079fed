package bfl

import (
	"fmt"
	"strings"

	"crafter/internal/imagegen"
)

// Tier groups models that accept the same request parameters.
type Tier int

const (
	// TierStandard covers flux-pro and flux-dev: explicit size plus sampler controls.
	TierStandard Tier = iota
	// TierPro11 accepts an explicit size but no sampler controls.
	TierPro11
	// TierUltra accepts only a named aspect ratio.
	TierUltra
)

const (
	defaultSteps    = 20
	defaultGuidance = 3.5

	MinSafetyTolerance = 1
	MaxSafetyTolerance = 6
)

// Models lists the supported model ids.
var Models = []string{"flux-pro-1.1-ultra", "flux-pro-1.1", "flux-pro", "flux-dev"}

// IsKnownModel reports whether model is one of Models.
func IsKnownModel(model string) bool {
	for _, m := range Models {
		if m == model {
			return true
		}
	}
	return false
}

// TierFor classifies a model id by its suffix.
func TierFor(model string) Tier {
	switch {
	case strings.HasSuffix(model, "-ultra"):
		return TierUltra
	case strings.HasSuffix(model, "-pro-1.1"):
		return TierPro11
	default:
		return TierStandard
	}
}

func (t Tier) String() string {
	switch t {
	case TierUltra:
		return "ultra"
	case TierPro11:
		return "pro-1.1"
	default:
		return "standard"
	}
}

// RequestBody is the JSON submitted to a model endpoint. Pointer fields are
// omitted when the tier does not accept them.
type RequestBody struct {
	Prompt           string   `json:"prompt"`
	Width            *int     `json:"width,omitempty"`
	Height           *int     `json:"height,omitempty"`
	AspectRatio      string   `json:"aspect_ratio,omitempty"`
	Steps            *int     `json:"steps,omitempty"`
	Guidance         *float64 `json:"guidance,omitempty"`
	PromptUpsampling *bool    `json:"prompt_upsampling,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
	SafetyTolerance  int      `json:"safety_tolerance"`
	OutputFormat     string   `json:"output_format"`
}

// BuildRequestBody shapes req for the tier of model.
func BuildRequestBody(model string, req imagegen.Request) (RequestBody, error) {
	dims, err := req.AspectRatio.Dimensions()
	if err != nil {
		return RequestBody{}, err
	}
	tolerance := req.SafetyTolerance
	if tolerance < MinSafetyTolerance || tolerance > MaxSafetyTolerance {
		return RequestBody{}, fmt.Errorf("bfl: safety tolerance %d outside %d..%d", tolerance, MinSafetyTolerance, MaxSafetyTolerance)
	}
	body := RequestBody{
		Prompt:          req.Prompt,
		Seed:            req.Seed,
		SafetyTolerance: tolerance,
		OutputFormat:    "jpeg",
	}
	width, height := dims.Width, dims.Height
	upsampling := req.PromptUpsampling

	switch TierFor(model) {
	case TierUltra:
		body.AspectRatio = string(imagegen.ClosestAspectRatio(width, height))
	case TierPro11:
		body.Width, body.Height = &width, &height
		body.PromptUpsampling = &upsampling
	default:
		steps, guidance := defaultSteps, defaultGuidance
		body.Width, body.Height = &width, &height
		body.Steps, body.Guidance = &steps, &guidance
		body.PromptUpsampling = &upsampling
	}
	return body, nil
}
