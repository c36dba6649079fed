package imagegen

import (
	"context"
	"time"

	"crafter/internal/infra"
)

// RetryPolicy bounds submission retries. Delays double after each failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy makes three attempts, waiting 2s then 4s.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

// Delay returns the wait before attempt n+1, given n failed attempts.
func (p RetryPolicy) Delay(failed int) time.Duration {
	if failed < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<(failed-1))
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type retryingProvider struct {
	inner  Provider
	policy RetryPolicy
	logger *infra.Logger
	sleep  sleepFunc
}

type retryingAsyncProvider struct {
	*retryingProvider
	poller Poller
}

func (p retryingAsyncProvider) PollOnce(ctx context.Context, jobID string) (Tick, error) {
	return p.poller.PollOnce(ctx, jobID)
}

// WithRetry wraps p so transient submission failures are retried according to
// policy. Polling capability is preserved; polls themselves are never retried.
func WithRetry(p Provider, policy RetryPolicy, logger *infra.Logger) Provider {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy
	}
	rp := &retryingProvider{inner: p, policy: policy, logger: infra.LoggerOrDiscard(logger), sleep: sleepContext}
	if poller, ok := p.(Poller); ok {
		return retryingAsyncProvider{retryingProvider: rp, poller: poller}
	}
	return rp
}

func (p *retryingProvider) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		res, err := p.inner.Submit(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == p.policy.MaxAttempts {
			break
		}
		delay := p.policy.Delay(attempt)
		p.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("model", req.Model).
			Msg("imagegen: transient submit failure, retrying")
		if err := p.sleep(ctx, delay); err != nil {
			return SubmitResult{}, err
		}
	}
	return SubmitResult{}, lastErr
}
