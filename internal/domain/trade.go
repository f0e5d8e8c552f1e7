package domain

import "time"

// RecentlyClosed is the ephemeral record written after a successful
// close, preventing a late/stale "appeared" observation from re-opening
// a position whose close we already replicated (§3 Recently-closed record).
type RecentlyClosed struct {
	SourceAccountID  string
	SourcePositionID string
	ClosedAt         time.Time
	Outcome          CloseOutcome
	DestAccountID    string
	DestPositionID   string
}
