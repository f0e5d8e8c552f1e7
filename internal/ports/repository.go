package ports

import (
	"context"

	"copytrader/internal/domain"
)

// MappingStore is the durable Position-Mapping Store (§4.C). Storage
// layout is any ordered KV (§6.2); all operations are safe to call
// concurrently across source accounts, but single-writer serialization
// per source position is the caller's responsibility (§4.F.1, §5).
type MappingStore interface {
	// CreateMapping is idempotent on the composite key: if a mapping
	// already exists for (sourceAccountID, sourcePositionID) the call is
	// a no-op and does NOT overwrite destPositionID.
	CreateMapping(ctx context.Context, sourceAccountID, sourcePositionID string, mapping *domain.Mapping) error

	// GetMapping is cache-first, store-fallback. Returns nil, nil if none.
	GetMapping(ctx context.Context, sourceAccountID, sourcePositionID string) (*domain.Mapping, error)

	// GetAccountMappings returns the full mapping set for a source account.
	GetAccountMappings(ctx context.Context, sourceAccountID string) ([]*domain.Mapping, error)

	// FindByDestPosition scans the hinted source accounts first, then the
	// local cache, and returns at most one mapping.
	FindByDestPosition(ctx context.Context, destAccountID, destPositionID string, hintSourceAccountIDs []string) (*domain.Mapping, error)

	// DeleteMapping removes from store and cache; a subsequent GetMapping
	// returns none.
	DeleteMapping(ctx context.Context, sourceAccountID, sourcePositionID string) error

	// RecordClose writes a recently-closed record with the default TTL.
	RecordClose(ctx context.Context, sourceAccountID, sourcePositionID string, closeInfo *domain.RecentlyClosed) error

	// WasRecentlyClosed is a TTL-bounded lookup of RecordClose entries.
	WasRecentlyClosed(ctx context.Context, sourceAccountID, sourcePositionID string) (bool, error)

	Close() error
}
