package recording

import (
	"context"
	"time"
)

const (
	// DefaultPollRetryInterval is the fixed wait after a failed chunk info poll.
	DefaultPollRetryInterval = 10 * time.Second
	// DefaultPacePadding is added to the server's next-chunk estimate to absorb clock skew.
	DefaultPacePadding = time.Second
)

// RetryPolicy governs how failed chunk info polls are retried. The interval
// never grows. MaxAttempts <= 0 retries forever.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy retries every 10 seconds without limit.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: DefaultPollRetryInterval}
}

// Exhausted reports whether failures consecutive failed polls use up the policy.
func (p RetryPolicy) Exhausted(failures int) bool {
	return p.MaxAttempts > 0 && failures >= p.MaxAttempts
}

// sleepContext waits for d or until ctx is done, whichever comes first.
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
