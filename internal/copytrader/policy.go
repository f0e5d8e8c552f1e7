package copytrader

import (
	"time"

	"github.com/jpillora/backoff"

	"copytrader/internal/retry"
)

// replicationBackoff is the single schedule config behind the 3-attempt
// retry named for open replication (§4.F.3) and copyExit (§4.F.5):
// Min=5s doubling, capped at Max=20s, no jitter. Three attempts leave two
// gaps, so the delays are exactly 5s then 10s.
func replicationBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    5 * time.Second,
		Max:    20 * time.Second,
		Factor: 2,
		Jitter: false,
	}
}

// replicationPolicy materializes the shared backoff config into a
// retry.Policy for the 3-attempt schedule.
func replicationPolicy() retry.Policy {
	return retry.FromBackoff(replicationBackoff(), 3)
}
