package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries transient failures a bounded number of times with a
// fixed backoff between attempts.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), fn)
}

// DoContext runs fn until it succeeds, retries are exhausted, or ctx is
// canceled. Rate-limit errors are never retried here; a fixed backoff will
// not clear them and the circuit breaker already covers that case.
func (r RetryPolicy) DoContext(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= r.MaxRetries || IsRateLimit(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.Backoff):
		}
	}
}
