package imagegen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crafter/internal/notify"
)

type recordingNotifier struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *recordingNotifier) Notify(level notify.Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, notify.Notification{Level: level, Message: message})
}

func (r *recordingNotifier) entries() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.items...)
}

func (r *recordingNotifier) count(level notify.Level) int {
	n := 0
	for _, item := range r.entries() {
		if item.Level == level {
			n++
		}
	}
	return n
}

type syncProvider struct {
	artifact Artifact
	err      error
}

func (p syncProvider) Submit(context.Context, Request) (SubmitResult, error) {
	if p.err != nil {
		return SubmitResult{}, p.err
	}
	return Immediate(p.artifact), nil
}

type scriptedProvider struct {
	mu      sync.Mutex
	jobs    []string
	submits int
	polls   atomic.Int32
	poll    func(ctx context.Context, jobID string, attempt int) (Tick, error)
}

func (p *scriptedProvider) Submit(context.Context, Request) (SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "job-1"
	if p.submits < len(p.jobs) {
		id = p.jobs[p.submits]
	}
	p.submits++
	return Deferred(id), nil
}

func (p *scriptedProvider) PollOnce(ctx context.Context, jobID string) (Tick, error) {
	n := int(p.polls.Add(1))
	return p.poll(ctx, jobID, n)
}

func testRequest() Request {
	return Request{Prompt: "a fox", Model: "flux-pro-1.1", AspectRatio: AspectLandscape, SafetyTolerance: 2}
}

func newTestCoordinator(p Provider, n notify.Notifier) *Coordinator {
	return NewCoordinator(p, Options{Notifier: n, PollInterval: time.Millisecond})
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestCoordinatorImmediateSuccess(t *testing.T) {
	rec := &recordingNotifier{}
	c := newTestCoordinator(syncProvider{artifact: Artifact{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}}, rec)

	out := waitOutcome(t, c.Start(context.Background(), testRequest()))
	if out.Lifecycle != LifecycleSuccess || out.Err != nil {
		t.Fatalf("outcome = %+v, want success", out)
	}
	if got := c.Snapshot(); got.Lifecycle != LifecycleIdle || got.ActiveJobID != "" {
		t.Fatalf("state after success = %+v, want idle", got)
	}
	if _, ok := c.Result(); !ok {
		t.Fatalf("expected stored result")
	}
	entries := rec.entries()
	if len(entries) != 1 || entries[0].Level != notify.LevelSuccess || entries[0].Message != "Image generated successfully." {
		t.Fatalf("notifications = %+v", entries)
	}
}

func TestCoordinatorReadyEmbedsArtifact(t *testing.T) {
	rec := &recordingNotifier{}
	p := &scriptedProvider{poll: func(_ context.Context, _ string, attempt int) (Tick, error) {
		if attempt < 3 {
			return Tick{Status: JobPending}, nil
		}
		return Tick{Status: JobReady, Artifact: &Artifact{MIMEType: "image/jpeg", Data: []byte("jpeg-bytes")}}, nil
	}}
	c := newTestCoordinator(p, rec)

	out := waitOutcome(t, c.Start(context.Background(), testRequest()))
	if out.Lifecycle != LifecycleSuccess {
		t.Fatalf("lifecycle = %s, want success (err %v)", out.Lifecycle, out.Err)
	}
	if out.Attempts != 3 || out.JobID != "job-1" {
		t.Fatalf("outcome = %+v", out)
	}
	if !strings.HasPrefix(out.Artifact.DataURL(), "data:image/jpeg;base64,") {
		t.Fatalf("artifact not embeddable: %s", out.Artifact.DataURL())
	}
	if rec.count(notify.LevelSuccess) != 1 {
		t.Fatalf("success notifications = %d, want 1", rec.count(notify.LevelSuccess))
	}
	entries := rec.entries()
	if entries[0].Level != notify.LevelInfo || entries[0].Message != "Image generation started, now polling for result." {
		t.Fatalf("first notification = %+v", entries[0])
	}
}

func TestCoordinatorTimesOutAfterMaxAttempts(t *testing.T) {
	rec := &recordingNotifier{}
	p := &scriptedProvider{poll: func(context.Context, string, int) (Tick, error) {
		return Tick{Status: JobPending}, nil
	}}
	c := newTestCoordinator(p, rec)

	out := waitOutcome(t, c.Start(context.Background(), testRequest()))
	if out.Lifecycle != LifecycleTimeout {
		t.Fatalf("lifecycle = %s, want timeout", out.Lifecycle)
	}
	var timeoutErr *TimeoutError
	if !errors.As(out.Err, &timeoutErr) || timeoutErr.Attempts != DefaultMaxAttempts {
		t.Fatalf("err = %v, want TimeoutError after %d attempts", out.Err, DefaultMaxAttempts)
	}
	if got := p.polls.Load(); got != DefaultMaxAttempts {
		t.Fatalf("polls = %d, want %d", got, DefaultMaxAttempts)
	}

	var timeouts int
	for _, n := range rec.entries() {
		if n.Message == "Image generation timed out." {
			timeouts++
		}
	}
	if timeouts != 1 {
		t.Fatalf("timeout notifications = %d, want 1", timeouts)
	}
	if c.Snapshot().Lifecycle != LifecycleIdle {
		t.Fatalf("expected idle after timeout")
	}
}

type flakyProvider struct {
	calls int
	err   error
}

func (p *flakyProvider) Submit(context.Context, Request) (SubmitResult, error) {
	p.calls++
	return SubmitResult{}, p.err
}

// flakyAsyncProvider fails on submit like flakyProvider but polls like BFL.
type flakyAsyncProvider struct{ *flakyProvider }

func (flakyAsyncProvider) PollOnce(context.Context, string) (Tick, error) {
	return Tick{Status: JobPending}, nil
}

func TestCoordinatorRetriesTransientSubmitFailures(t *testing.T) {
	rec := &recordingNotifier{}
	inner := &flakyProvider{err: Transient(503, errors.New("service unavailable"))}
	wrapped := WithRetry(flakyAsyncProvider{inner}, DefaultRetryPolicy, nil).(retryingAsyncProvider)
	var delays []time.Duration
	wrapped.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	c := newTestCoordinator(wrapped, rec)

	out := waitOutcome(t, c.Start(context.Background(), testRequest()))
	if out.Lifecycle != LifecycleFailure {
		t.Fatalf("lifecycle = %s, want failure", out.Lifecycle)
	}
	if inner.calls != 3 {
		t.Fatalf("submit calls = %d, want 3", inner.calls)
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("delays = %v, want [2s 4s]", delays)
	}
	entries := rec.entries()
	if len(entries) != 1 || entries[0].Level != notify.LevelError {
		t.Fatalf("notifications = %+v, want one error", entries)
	}
	if !strings.HasPrefix(entries[0].Message, "Error starting image generation:") {
		t.Fatalf("message = %q", entries[0].Message)
	}
}

func TestCoordinatorSubmitFailureMessageFollowsProviderKind(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		prefix   string
	}{
		{name: "synchronous", provider: syncProvider{err: errors.New("quota exceeded")}, prefix: "Error generating image: "},
		{name: "deferred", provider: flakyAsyncProvider{&flakyProvider{err: errors.New("quota exceeded")}}, prefix: "Error starting image generation: "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recordingNotifier{}
			c := newTestCoordinator(tc.provider, rec)
			out := waitOutcome(t, c.Start(context.Background(), testRequest()))
			if out.Lifecycle != LifecycleFailure {
				t.Fatalf("lifecycle = %s, want failure", out.Lifecycle)
			}
			entries := rec.entries()
			if len(entries) != 1 || entries[0].Message != tc.prefix+"quota exceeded" {
				t.Fatalf("notifications = %+v", entries)
			}
		})
	}
}

func TestCoordinatorDoesNotRetryTerminalSubmitFailures(t *testing.T) {
	inner := &flakyProvider{err: Terminal(400, errors.New("bad request"))}
	wrapped := WithRetry(inner, DefaultRetryPolicy, nil).(*retryingProvider)
	wrapped.sleep = func(context.Context, time.Duration) error {
		t.Fatalf("terminal failure should not back off")
		return nil
	}
	c := newTestCoordinator(wrapped, nil)

	out := waitOutcome(t, c.Start(context.Background(), testRequest()))
	if out.Lifecycle != LifecycleFailure || inner.calls != 1 {
		t.Fatalf("outcome = %+v calls = %d", out, inner.calls)
	}
	var se *SubmitError
	if !errors.As(out.Err, &se) || se.StatusCode != 400 {
		t.Fatalf("err = %v, want SubmitError 400", out.Err)
	}
}

func TestCoordinatorRejectsInvalidRequestWithoutSubmitting(t *testing.T) {
	inner := &flakyProvider{}
	rec := &recordingNotifier{}
	c := newTestCoordinator(inner, rec)

	req := testRequest()
	req.Prompt = "   "
	out := waitOutcome(t, c.Start(context.Background(), req))
	if !errors.Is(out.Err, ErrEmptyPrompt) {
		t.Fatalf("err = %v, want ErrEmptyPrompt", out.Err)
	}
	if inner.calls != 0 {
		t.Fatalf("provider called %d times", inner.calls)
	}
	if rec.count(notify.LevelError) != 1 {
		t.Fatalf("expected one error notification")
	}
}

func TestCoordinatorDiscardsStaleTickAfterRestart(t *testing.T) {
	rec := &recordingNotifier{}
	entered := make(chan struct{})
	release := make(chan struct{})
	p := &scriptedProvider{
		jobs: []string{"job-1", "job-2"},
		poll: func(_ context.Context, jobID string, _ int) (Tick, error) {
			if jobID == "job-1" {
				close(entered)
				<-release
				return Tick{Status: JobReady, Artifact: &Artifact{Data: []byte("old")}}, nil
			}
			return Tick{Status: JobReady, Artifact: &Artifact{Data: []byte("new")}}, nil
		},
	}
	c := newTestCoordinator(p, rec)

	first := c.Start(context.Background(), testRequest())
	<-entered
	if snap := c.Snapshot(); snap.Lifecycle != LifecyclePolling || snap.ActiveJobID != "job-1" || snap.PollingAttempts != 1 {
		t.Fatalf("snapshot while polling = %+v", snap)
	}

	second := waitOutcome(t, c.Start(context.Background(), testRequest()))
	if second.Lifecycle != LifecycleSuccess || string(second.Artifact.Data) != "new" {
		t.Fatalf("second outcome = %+v", second)
	}

	close(release)
	stale := waitOutcome(t, first)
	if !errors.Is(stale.Err, ErrCanceled) {
		t.Fatalf("stale outcome err = %v, want ErrCanceled", stale.Err)
	}
	if got, _ := c.Result(); string(got.Data) != "new" {
		t.Fatalf("result = %q, want new", got.Data)
	}
	if rec.count(notify.LevelSuccess) != 1 {
		t.Fatalf("success notifications = %d, want 1", rec.count(notify.LevelSuccess))
	}
}

func TestCoordinatorPollingStateBeforeFirstTick(t *testing.T) {
	started := make(chan struct{}, 1)
	n := notify.NotifierFunc(func(level notify.Level, message string) {
		if level == notify.LevelInfo && message == msgPollingStarted {
			started <- struct{}{}
		}
	})
	p := &scriptedProvider{poll: func(context.Context, string, int) (Tick, error) {
		return Tick{Status: JobPending}, nil
	}}
	c := NewCoordinator(p, Options{Notifier: n, PollInterval: time.Hour})

	ch := c.Start(context.Background(), testRequest())
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("polling never started")
	}
	want := State{Lifecycle: LifecyclePolling, ActiveJobID: "job-1", PollingAttempts: 0}
	if got := c.Snapshot(); got != want {
		t.Fatalf("snapshot = %+v, want %+v", got, want)
	}
	if got := p.polls.Load(); got != 0 {
		t.Fatalf("polls before first interval = %d, want 0", got)
	}

	c.Cancel()
	if out := waitOutcome(t, ch); !errors.Is(out.Err, ErrCanceled) {
		t.Fatalf("outcome = %+v, want canceled", out)
	}
}

func TestCoordinatorCancelStopsPolling(t *testing.T) {
	rec := &recordingNotifier{}
	polled := make(chan struct{}, 1)
	p := &scriptedProvider{poll: func(context.Context, string, int) (Tick, error) {
		select {
		case polled <- struct{}{}:
		default:
		}
		return Tick{Status: JobPending}, nil
	}}
	c := newTestCoordinator(p, rec)

	ch := c.Start(context.Background(), testRequest())
	<-polled
	c.Cancel()

	out := waitOutcome(t, ch)
	if !errors.Is(out.Err, ErrCanceled) || out.Lifecycle != LifecycleIdle {
		t.Fatalf("outcome = %+v, want canceled", out)
	}
	after := p.polls.Load()
	time.Sleep(20 * time.Millisecond)
	if p.polls.Load() != after {
		t.Fatalf("polling continued after cancel")
	}
	if rec.count(notify.LevelSuccess)+rec.count(notify.LevelError) != 0 {
		t.Fatalf("cancel must not emit terminal notifications: %+v", rec.entries())
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestCoordinatorPollFailures(t *testing.T) {
	tests := []struct {
		name    string
		tick    Tick
		err     error
		message string
	}{
		{name: "transport", err: &PollTransportError{JobID: "job-1", Err: errors.New("connection reset")}, message: "Polling error:"},
		{name: "resolution", err: &ArtifactResolutionError{JobID: "job-1", URL: "https://cdn.test/x.jpg", Err: errors.New("404")}, message: "Error generating image:"},
		{name: "ready without image", tick: Tick{Status: JobReady}, message: "Error generating image:"},
		{name: "provider failed", tick: Tick{Status: JobFailed}, message: "Image generation failed."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recordingNotifier{}
			p := &scriptedProvider{poll: func(context.Context, string, int) (Tick, error) {
				return tc.tick, tc.err
			}}
			c := newTestCoordinator(p, rec)

			out := waitOutcome(t, c.Start(context.Background(), testRequest()))
			if out.Lifecycle != LifecycleFailure || out.Err == nil {
				t.Fatalf("outcome = %+v, want failure", out)
			}
			if p.polls.Load() != 1 {
				t.Fatalf("polls = %d, want 1", p.polls.Load())
			}
			if rec.count(notify.LevelError) != 1 {
				t.Fatalf("error notifications = %d, want 1", rec.count(notify.LevelError))
			}
			entries := rec.entries()
			if last := entries[len(entries)-1].Message; !strings.HasPrefix(last, tc.message) {
				t.Fatalf("message = %q, want prefix %q", last, tc.message)
			}
		})
	}
}

func TestCoordinatorRequiresPollerForDeferredJobs(t *testing.T) {
	c := newTestCoordinator(deferredOnly{}, nil)
	out := waitOutcome(t, c.Start(context.Background(), testRequest()))
	if !errors.Is(out.Err, ErrPollingUnsupported) {
		t.Fatalf("err = %v, want ErrPollingUnsupported", out.Err)
	}
}

type deferredOnly struct{}

func (deferredOnly) Submit(context.Context, Request) (SubmitResult, error) {
	return Deferred("job-x"), nil
}

func TestWithRetryKeepsPollingCapability(t *testing.T) {
	p := &scriptedProvider{}
	if _, ok := WithRetry(p, DefaultRetryPolicy, nil).(Poller); !ok {
		t.Fatalf("async provider lost PollOnce after wrapping")
	}
	if _, ok := WithRetry(syncProvider{}, DefaultRetryPolicy, nil).(Poller); ok {
		t.Fatalf("sync provider gained PollOnce after wrapping")
	}
}
