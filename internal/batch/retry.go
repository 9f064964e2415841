package batch

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Initial is the delay before the first retry; it doubles after each retry.
	Initial time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable never retries.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry calls op until it succeeds, returns a non-retryable error, or the
// retry budget is spent. The last error is returned in the latter two cases.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := p.Initial
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return v, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
		delay *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
