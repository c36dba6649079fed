// Package imagegen owns the asynchronous image-generation lifecycle: a job is
// submitted to a provider, polled on a fixed interval while the provider
// reports it pending, and reduced to exactly one terminal outcome.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Lifecycle is the coordinator's own view of the active generation.
type Lifecycle string

const (
	LifecycleIdle       Lifecycle = "idle"
	LifecycleSubmitting Lifecycle = "submitting"
	LifecyclePolling    Lifecycle = "polling"
	LifecycleSuccess    Lifecycle = "success"
	LifecycleFailure    Lifecycle = "failure"
	LifecycleTimeout    Lifecycle = "timeout"
)

// Terminal reports whether no further automatic transition follows l.
func (l Lifecycle) Terminal() bool {
	switch l {
	case LifecycleSuccess, LifecycleFailure, LifecycleTimeout:
		return true
	default:
		return false
	}
}

// JobStatus is the status reported by the remote provider for a job.
type JobStatus string

const (
	JobPending JobStatus = "Pending"
	JobReady   JobStatus = "Ready"
	JobFailed  JobStatus = "Failed"
)

// AspectRatio is one of the supported output shapes.
type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectLandscape AspectRatio = "16:9"
	AspectPortrait  AspectRatio = "9:16"
	AspectClassic   AspectRatio = "4:3"
	AspectTall      AspectRatio = "3:4"
)

// AspectRatios lists every supported ratio in display order.
var AspectRatios = []AspectRatio{AspectSquare, AspectLandscape, AspectPortrait, AspectClassic, AspectTall}

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int
	Height int
}

var aspectDimensions = map[AspectRatio]Dimensions{
	AspectSquare:    {Width: 1024, Height: 1024},
	AspectLandscape: {Width: 1440, Height: 810},
	AspectPortrait:  {Width: 810, Height: 1440},
	AspectClassic:   {Width: 1024, Height: 768},
	AspectTall:      {Width: 768, Height: 1024},
}

// ParseAspectRatio validates a user supplied ratio.
func ParseAspectRatio(raw string) (AspectRatio, error) {
	ratio := AspectRatio(strings.TrimSpace(raw))
	if _, ok := aspectDimensions[ratio]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAspectRatio, raw)
	}
	return ratio, nil
}

// Dimensions returns the pixel size for the ratio.
func (a AspectRatio) Dimensions() (Dimensions, error) {
	d, ok := aspectDimensions[a]
	if !ok {
		return Dimensions{}, fmt.Errorf("%w: %q", ErrUnsupportedAspectRatio, string(a))
	}
	return d, nil
}

// aspectTolerance bounds how far width/height may drift from a named ratio.
const aspectTolerance = 0.1

// ClosestAspectRatio picks the supported ratio matching width/height, checking
// in display order, and falls back to 1:1 when nothing is within tolerance.
func ClosestAspectRatio(width, height int) AspectRatio {
	if width <= 0 || height <= 0 {
		return AspectSquare
	}
	ratio := float64(width) / float64(height)
	for _, candidate := range AspectRatios {
		d := aspectDimensions[candidate]
		target := float64(d.Width) / float64(d.Height)
		if math.Abs(ratio-target) < aspectTolerance {
			return candidate
		}
	}
	return AspectSquare
}

// Request is a provider-neutral image request.
type Request struct {
	Prompt           string
	Model            string
	AspectRatio      AspectRatio
	PromptUpsampling bool
	SafetyTolerance  int
	Seed             *int
}

// Validate enforces the constraints shared by every provider.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if _, err := r.AspectRatio.Dimensions(); err != nil {
		return err
	}
	return nil
}

// Artifact is a generated image held in memory.
type Artifact struct {
	SourceURL string
	MIMEType  string
	Data      []byte
}

// DataURL renders the artifact as a self-contained data URL.
func (a Artifact) DataURL() string {
	mime := a.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// ParseDataURL decodes a base64 data URL back into an artifact.
func ParseDataURL(raw string) (Artifact, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), "data:")
	if !ok {
		return Artifact{}, errors.New("imagegen: not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Artifact{}, errors.New("imagegen: data url missing payload")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return Artifact{}, errors.New("imagegen: only base64 data urls are supported")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("imagegen: decode data url: %w", err)
	}
	return Artifact{MIMEType: mime, Data: data}, nil
}

// IsDataURL reports whether raw is already an embedded data URL.
func IsDataURL(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "data:")
}

// SubmitResult is either an immediate artifact or a deferred job handle.
type SubmitResult struct {
	artifact *Artifact
	jobID    string
}

// Immediate wraps a finished artifact returned by a synchronous provider.
func Immediate(a Artifact) SubmitResult { return SubmitResult{artifact: &a} }

// Deferred wraps a job id that must be polled.
func Deferred(jobID string) SubmitResult { return SubmitResult{jobID: jobID} }

// Artifact returns the immediate artifact, if any.
func (r SubmitResult) Artifact() (Artifact, bool) {
	if r.artifact == nil {
		return Artifact{}, false
	}
	return *r.artifact, true
}

// JobID returns the deferred job id, if any.
func (r SubmitResult) JobID() (string, bool) {
	return r.jobID, r.artifact == nil && r.jobID != ""
}

// Tick is the outcome of one poll request.
type Tick struct {
	Status   JobStatus
	Artifact *Artifact
}

// Provider submits image requests. Synchronous providers return Immediate
// results; asynchronous providers return Deferred results and also implement Poller.
type Provider interface {
	Submit(ctx context.Context, req Request) (SubmitResult, error)
}

// Poller queries a deferred job once. It never schedules itself.
type Poller interface {
	PollOnce(ctx context.Context, jobID string) (Tick, error)
}

// State is a snapshot of the coordinator.
type State struct {
	Lifecycle       Lifecycle `json:"lifecycle"`
	ActiveJobID     string    `json:"active_job_id,omitempty"`
	PollingAttempts int       `json:"polling_attempts"`
}

// Busy reports whether a generation is in flight.
func (s State) Busy() bool {
	return s.Lifecycle == LifecycleSubmitting || s.Lifecycle == LifecyclePolling
}

// StatusText is the short progress label shown while busy.
func (s State) StatusText() string {
	if s.Lifecycle == LifecyclePolling {
		return fmt.Sprintf("Polling (%d)...", s.PollingAttempts)
	}
	return "Generating image..."
}

// Outcome is the single result of a Start call.
type Outcome struct {
	Lifecycle Lifecycle
	JobID     string
	Attempts  int
	Artifact  *Artifact
	Err       error
}
