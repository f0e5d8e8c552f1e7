// Package retry implements a single retry(op, policy) combinator used
// everywhere bounded backoff is needed. CopyExit is its canonical caller.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Policy is an ordered list of delays between attempts. len(Delays)+1 is
// the maximum number of attempts.
type Policy struct {
	Delays []time.Duration
}

// Fixed builds a Policy from explicit delays.
func Fixed(delays ...time.Duration) Policy {
	return Policy{Delays: delays}
}

// FromBackoff materializes a Policy by drawing attempts-1 delays from b,
// resetting b first so callers can share one *backoff.Backoff config
// across repeated Policy construction without drift. This is how the
// schedule for open replication (§4.F.3) and copyExit (§4.F.5) is
// generated: Min=5s, Factor=2, Max=20s, Jitter=false with 3 attempts
// yields delays of exactly 5s then 10s; the 20s cap is never reached.
func FromBackoff(b *backoff.Backoff, attempts int) Policy {
	b.Reset()
	delays := make([]time.Duration, 0, attempts-1)
	for i := 0; i < attempts-1; i++ {
		delays = append(delays, b.Duration())
	}
	return Policy{Delays: delays}
}

func (p Policy) maxAttempts() int {
	return len(p.Delays) + 1
}

// Outcome is returned by an attempt function to tell Do whether to stop,
// retry, or abort outright.
type Outcome int

const (
	// Done means the attempt succeeded or reached a definitive result; stop retrying.
	Done Outcome = iota
	// Retry means this attempt failed in a retryable way; wait and try again.
	Retry
	// Abort means this attempt failed in a non-retryable way; stop immediately.
	Abort
)

// Attempt is called once per try. attemptNum is 1-based. isLast reports
// whether this is the final attempt the policy allows.
type Attempt func(ctx context.Context, attemptNum int, isLast bool) Outcome

// Do runs fn under policy, sleeping policy.Delays[i] between attempts.
// It returns true if fn ever returned Done, false if every attempt
// returned Retry (exhausted) or any attempt returned Abort.
func Do(ctx context.Context, policy Policy, fn Attempt) bool {
	max := policy.maxAttempts()
	for attempt := 1; attempt <= max; attempt++ {
		isLast := attempt == max
		switch fn(ctx, attempt, isLast) {
		case Done:
			return true
		case Abort:
			return false
		case Retry:
			if isLast {
				return false
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(policy.Delays[attempt-1]):
			}
		}
	}
	return false
}
