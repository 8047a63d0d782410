package providers

import (
	"context"
	"time"
)

// RetryPolicy retries rate-limited calls with a doubling backoff. Any other
// error is returned at once.
type RetryPolicy struct {
	Attempts int           // additional tries after the first
	Backoff  time.Duration // wait before the first retry, doubled each time
}

// DefaultRetryPolicy is two extra tries starting at two seconds
var DefaultRetryPolicy = RetryPolicy{Attempts: 2, Backoff: 2 * time.Second}

// Do runs op until it succeeds, fails with a non rate-limit error, or the
// retries run out. onRetry, when set, is told about each scheduled retry.
func (p RetryPolicy) Do(ctx context.Context, op func() error, onRetry func(attempt int, wait time.Duration, err error)) error {
	wait := p.Backoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !IsRateLimited(err) || attempt >= p.Attempts {
			return err
		}

		if onRetry != nil {
			onRetry(attempt+1, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}
