package verifier

import (
	"context"
	"time"
)

// backoffPolicy is a small exponential-backoff helper, generalized
// from the channel-fed retry loops in internal/fusion/relayer.go's
// order/secret processing goroutines into a bounded, deadline-aware
// retry that yields a sentinel rather than blocking forever.
type backoffPolicy struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	overall time.Duration
}

var defaultBackoff = backoffPolicy{
	initial: 500 * time.Millisecond,
	max:     5 * time.Second,
	factor:  2,
	overall: 60 * time.Second,
}

// retryUntil calls attempt repeatedly until it returns true, the
// overall deadline elapses, or ctx is canceled. attempt returning a
// non-nil error aborts retrying immediately (permanent failure).
func retryUntil(ctx context.Context, p backoffPolicy, attempt func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(p.overall)
	wait := p.initial

	for {
		ok, err := attempt(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().Add(wait).After(deadline) {
			return false, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		wait = time.Duration(float64(wait) * p.factor)
		if wait > p.max {
			wait = p.max
		}
	}
}
