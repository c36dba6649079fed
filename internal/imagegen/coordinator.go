package imagegen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crafter/internal/infra"
	"crafter/internal/notify"
)

const (
	DefaultPollInterval = 2500 * time.Millisecond
	DefaultMaxAttempts  = 100
)

const (
	msgPollingStarted = "Image generation started, now polling for result."
	msgSucceeded      = "Image generated successfully."
	msgFailed         = "Image generation failed."
	msgTimedOut       = "Image generation timed out."
)

// Options configures a Coordinator.
type Options struct {
	Notifier     notify.Notifier
	Logger       *infra.Logger
	PollInterval time.Duration
	MaxAttempts  int
}

// Coordinator drives one image generation at a time through submit, polling
// and a terminal outcome. It is the only writer of its State.
type Coordinator struct {
	provider    Provider
	notifier    notify.Notifier
	logger      *infra.Logger
	interval    time.Duration
	maxAttempts int

	mu     sync.Mutex
	state  State
	token  uint64
	cancel context.CancelFunc
	result *Artifact
	wg     sync.WaitGroup
}

// NewCoordinator builds an idle coordinator around provider.
func NewCoordinator(provider Provider, opts Options) *Coordinator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Coordinator{
		provider:    provider,
		notifier:    notifier,
		logger:      infra.LoggerOrDiscard(opts.Logger),
		interval:    interval,
		maxAttempts: maxAttempts,
		state:       State{Lifecycle: LifecycleIdle},
	}
}

// Start cancels any active generation and begins a new one. The returned
// channel receives exactly one Outcome and is never closed without a value.
func (c *Coordinator) Start(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)

	c.mu.Lock()
	c.resetLocked()
	token := c.token
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = State{Lifecycle: LifecycleSubmitting}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()
		out <- c.run(runCtx, token, req)
	}()
	return out
}

// Cancel discards the active job, if any, and returns to idle without notifying.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Lifecycle != LifecycleIdle {
		c.logger.Debug().Object("state", c.state).Msg("imagegen: generation canceled")
	}
	c.resetLocked()
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the artifact of the most recent successful generation.
func (c *Coordinator) Result() (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return Artifact{}, false
	}
	return *c.result, true
}

// Shutdown cancels the active generation and waits for its goroutine to exit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, token uint64, req Request) Outcome {
	if err := req.Validate(); err != nil {
		return c.finish(token, Outcome{Lifecycle: LifecycleFailure, Err: err},
			notify.LevelError, c.submitFailure(err))
	}

	res, err := c.provider.Submit(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return c.abandon(token, "", 0)
		}
		return c.finish(token, Outcome{Lifecycle: LifecycleFailure, Err: err},
			notify.LevelError, c.submitFailure(err))
	}

	if artifact, ok := res.Artifact(); ok {
		return c.finish(token, Outcome{Lifecycle: LifecycleSuccess, Artifact: &artifact},
			notify.LevelSuccess, msgSucceeded)
	}

	jobID, ok := res.JobID()
	if !ok {
		err := fmt.Errorf("imagegen: provider returned neither an image nor a job id")
		return c.finish(token, Outcome{Lifecycle: LifecycleFailure, Err: err},
			notify.LevelError, fmt.Sprintf("Error starting image generation: %v", err))
	}
	poller, ok := c.provider.(Poller)
	if !ok {
		return c.finish(token, Outcome{Lifecycle: LifecycleFailure, JobID: jobID, Err: ErrPollingUnsupported},
			notify.LevelError, fmt.Sprintf("Error starting image generation: %v", ErrPollingUnsupported))
	}

	if !c.update(token, func(s *State) { *s = State{Lifecycle: LifecyclePolling, ActiveJobID: jobID} }) {
		return canceledOutcome(jobID, 0)
	}
	c.logger.Info().Str("job_id", jobID).Str("model", req.Model).Msg("imagegen: job submitted, polling")
	c.notifier.Notify(notify.LevelInfo, msgPollingStarted)

	return c.poll(ctx, token, poller, jobID)
}

func (c *Coordinator) poll(ctx context.Context, token uint64, poller Poller, jobID string) Outcome {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return c.abandon(token, jobID, attempts)
		case <-timer.C:
		}

		attempts++
		n := attempts
		if !c.update(token, func(s *State) { s.PollingAttempts = n }) {
			return canceledOutcome(jobID, attempts)
		}

		tick, err := poller.PollOnce(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return c.abandon(token, jobID, attempts)
			}
			out := Outcome{Lifecycle: LifecycleFailure, JobID: jobID, Attempts: attempts, Err: err}
			var resolveErr *ArtifactResolutionError
			if errors.As(err, &resolveErr) {
				return c.finish(token, out, notify.LevelError, fmt.Sprintf("Error generating image: %v", err))
			}
			return c.finish(token, out, notify.LevelError, fmt.Sprintf("Polling error: %v", err))
		}

		switch tick.Status {
		case JobReady:
			if tick.Artifact == nil {
				err := &ArtifactResolutionError{JobID: jobID, Err: errors.New("ready without image")}
				return c.finish(token, Outcome{Lifecycle: LifecycleFailure, JobID: jobID, Attempts: attempts, Err: err},
					notify.LevelError, fmt.Sprintf("Error generating image: %v", err))
			}
			return c.finish(token, Outcome{Lifecycle: LifecycleSuccess, JobID: jobID, Attempts: attempts, Artifact: tick.Artifact},
				notify.LevelSuccess, msgSucceeded)
		case JobFailed:
			return c.finish(token, Outcome{Lifecycle: LifecycleFailure, JobID: jobID, Attempts: attempts, Err: ErrJobFailed},
				notify.LevelError, msgFailed)
		default:
			if attempts >= c.maxAttempts {
				err := &TimeoutError{JobID: jobID, Attempts: attempts}
				return c.finish(token, Outcome{Lifecycle: LifecycleTimeout, JobID: jobID, Attempts: attempts, Err: err},
					notify.LevelError, msgTimedOut)
			}
			c.logger.Debug().Str("job_id", jobID).Int("attempt", attempts).Msg("imagegen: job pending")
			if !c.current(token) {
				return canceledOutcome(jobID, attempts)
			}
			timer.Reset(c.interval)
		}
	}
}

// submitFailure words a failed submit. Synchronous providers have no separate
// start step, so their failure is a generation error.
func (c *Coordinator) submitFailure(err error) string {
	if _, deferred := c.provider.(Poller); !deferred {
		return fmt.Sprintf("Error generating image: %v", err)
	}
	return fmt.Sprintf("Error starting image generation: %v", err)
}

// finish applies a terminal outcome if token is still current: the artifact is
// stored, state returns to idle and exactly one notification is sent. A stale
// token yields a canceled outcome with no side effects.
func (c *Coordinator) finish(token uint64, out Outcome, level notify.Level, message string) Outcome {
	c.mu.Lock()
	if c.token != token {
		c.mu.Unlock()
		return canceledOutcome(out.JobID, out.Attempts)
	}
	if out.Artifact != nil {
		stored := *out.Artifact
		c.result = &stored
	}
	c.resetLocked()
	c.mu.Unlock()

	event := c.logger.Info()
	if out.Err != nil {
		event = c.logger.Warn().Err(out.Err)
	}
	event.Str("job_id", out.JobID).
		Str("lifecycle", string(out.Lifecycle)).
		Int("attempts", out.Attempts).
		Msg("imagegen: generation finished")

	c.notifier.Notify(level, message)
	return out
}

func (c *Coordinator) abandon(token uint64, jobID string, attempts int) Outcome {
	c.mu.Lock()
	if c.token == token {
		c.resetLocked()
	}
	c.mu.Unlock()
	return canceledOutcome(jobID, attempts)
}

func (c *Coordinator) update(token uint64, fn func(*State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token {
		return false
	}
	fn(&c.state)
	return true
}

func (c *Coordinator) current(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token == token
}

// resetLocked invalidates the running generation and returns to idle.
func (c *Coordinator) resetLocked() {
	c.token++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = State{Lifecycle: LifecycleIdle}
}

func canceledOutcome(jobID string, attempts int) Outcome {
	return Outcome{Lifecycle: LifecycleIdle, JobID: jobID, Attempts: attempts, Err: ErrCanceled}
}

// MarshalZerologObject lets a State be logged as a nested object.
func (s State) MarshalZerologObject(e *zerolog.Event) {
	e.Str("lifecycle", string(s.Lifecycle)).
		Str("job_id", s.ActiveJobID).
		Int("attempts", s.PollingAttempts)
}
