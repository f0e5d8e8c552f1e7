package copytrader

import (
	"crypto/sha256"
	"encoding/hex"
)

// clientTagLength is how much of the sha256 digest is kept. A retried
// executeTrade for the same (sourceAccountId, sourcePositionId,
// destAccountId) always produces the same tag, so a broker that
// deduplicates by client tag collapses the retry server-side; brokers
// that don't still get a stable correlation id for logs.
const clientTagLength = 16

// clientTag derives a deterministic, non-secret correlation tag for one
// open replication. It is NOT relied on for dedup in this codebase; the
// mapping store is the source of truth, but it is passed through to
// executeTrade on every attempt of the same open (§9 open question).
func clientTag(sourceAccountID, sourcePositionID, destAccountID string) string {
	h := sha256.Sum256([]byte(sourceAccountID + "|" + sourcePositionID + "|" + destAccountID))
	return hex.EncodeToString(h[:])[:clientTagLength]
}
