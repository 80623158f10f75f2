package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded retry policy for calls that leave the process,
// provider API calls mostly. Attempts are capped and the delay between
// attempts is constant; once the budget is exhausted the last error is
// returned to the caller as-is.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 500 * time.Millisecond}
}

// Do runs op under the policy. Context cancellation stops the loop between
// attempts. Wrap an error with Permanent to stop retrying immediately.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	return backoff.Retry(func() error {
		return op(ctx)
	}, bo)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
