package ports

import "copytrader/internal/domain"

// RouteProvider exposes the current, hot-reloadable routing config
// (§4.D). Implementations swap the whole config object atomically under
// a write lock so readers never observe a partially-applied reload.
type RouteProvider interface {
	// SourceAccountIDs returns every source account with at least one route.
	SourceAccountIDs() []string

	// RoutesFor returns every destination route fanned out from sourceAccountID.
	RoutesFor(sourceAccountID string) []domain.Route
}
