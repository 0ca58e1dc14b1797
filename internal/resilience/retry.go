package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retry runs fn up to maxAttempts times with jittered exponential backoff
// between attempts. It returns the last error, or nil on the first success.
// Callers gate this on idempotency: side-effecting calls must pass
// maxAttempts=1.
func Retry(ctx context.Context, maxAttempts int, baseBackoff time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if werr := sleepJittered(ctx, baseBackoff<<(attempt-1)); werr != nil {
				return err
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// sleepJittered waits for d plus up to 50% random jitter, or until ctx is done.
func sleepJittered(ctx context.Context, d time.Duration) error {
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
