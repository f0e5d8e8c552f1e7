package copytrader

import (
	"context"
	"errors"

	"copytrader/internal/domain"
	"copytrader/internal/ports"
	"copytrader/internal/retry"
)

// CopyExit is the retry protocol whose prior absence caused the real
// incident this system is built to prevent (§4.F.5, §8.2). It never
// treats a transport failure as "position not found": only a concrete
// destination snapshot that is missing the position, confirmed on the
// final attempt, resolves to AlreadyClosed. The Orphan Reconciler (§4.G
// step 4) calls this same function to re-drive stuck closes, so there is
// exactly one place this protocol is implemented.
func CopyExit(ctx context.Context, pool ports.PoolClient, m *domain.Mapping) domain.CloseOutcome {
	outcome := domain.CloseOutcomeUnresolved

	retry.Do(ctx, replicationPolicy(), func(ctx context.Context, attempt int, isLast bool) retry.Outcome {
		destPositions, err := pool.Positions(ctx, m.DestAccountID, m.DestRegion)
		if err != nil {
			// Transport failure: this attempt is inconclusive, never "not found".
			return retry.Retry
		}

		found := false
		for _, p := range destPositions {
			if p.PositionID == m.DestPositionID {
				found = true
				break
			}
		}

		if found {
			_, err := pool.ClosePosition(ctx, m.DestAccountID, m.DestRegion, m.DestPositionID)
			if err == nil {
				outcome = domain.CloseOutcomeClosed
				return retry.Done
			}
			if errors.Is(err, ports.ErrUnknownPosition) {
				outcome = domain.CloseOutcomeAlreadyDone
				return retry.Done
			}
			// TransportError or BrokerRejected on close: try again if we can.
			return retry.Retry
		}

		// Not found this attempt: could be a stale read unless this is final.
		if isLast {
			outcome = domain.CloseOutcomeAlreadyDone
			return retry.Done
		}
		return retry.Retry
	})

	return outcome
}
