package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying retries executor failures with exponential backoff. Program
// failures come back as Results and are never retried.
type Retrying struct {
	next       Sandbox
	maxRetries uint64
	base       time.Duration
}

func WithRetry(next Sandbox, maxRetries int, base time.Duration) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Retrying{next: next, maxRetries: uint64(maxRetries), base: base}
}

func (r *Retrying) Run(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	op := func() error {
		out, err := r.next.Run(ctx, req)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && !httpErr.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		res = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.base
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return res, nil
}
