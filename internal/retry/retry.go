package retry

import (
	"context"
	"time"

	"live-transcriber/internal/transcribe"
)

// Invoker performs one normalize+infer attempt for a chunk.
type Invoker interface {
	Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Policy bounds the attempt loop for one chunk.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the service defaults: three attempts with
// exponential backoff starting at one second, capped at thirty.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// normalize fills zero values so a partially configured policy still runs.
func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Delay returns the backoff inserted after failed attempt number attempt
// (1-based): BaseDelay, 2*BaseDelay, 4*BaseDelay, ... capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Runner converts a possibly flaky invocation into a terminal outcome.
type Runner struct {
	policy  Policy
	invoker Invoker
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, err error)
}

// NewRunner builds a runner around an invoker with the given policy.
func NewRunner(policy Policy, invoker Invoker) *Runner {
	return &Runner{
		policy:  policy.normalize(),
		invoker: invoker,
		sleep:   sleepCtx,
	}
}

// OnRetry registers a callback invoked before each re-attempt.
func (r *Runner) OnRetry(fn func(attempt int, err error)) {
	r.onRetry = fn
}

// Do attempts the invocation up to MaxAttempts times. Non-retryable
// failures (missing input, missing binary or model) surface immediately.
// Only the latest attempt's error is returned; earlier attempt state is
// discarded.
func (r *Runner) Do(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		result, err := r.invoker.Run(ctx, req)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !transcribe.Retryable(err) {
			break
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
		if err := r.sleep(ctx, r.policy.Delay(attempt)); err != nil {
			return transcribe.Result{}, err
		}
	}

	return transcribe.Result{}, lastErr
}

// sleepCtx waits for the delay or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSleepForTests replaces the backoff wait with an injectable function.
func (r *Runner) SetSleepForTests(sleep func(ctx context.Context, d time.Duration) error) {
	r.sleep = sleep
}
