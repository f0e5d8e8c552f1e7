package mapstore

import (
	"context"
	"sync"
	"time"

	"copytrader/internal/domain"
)

// MemStore is an embedded, in-memory ports.MappingStore implementation.
// It backs unit and scenario tests and is also a legitimate deployment
// choice for a single-process router with no durability requirement
// (§4.C: "storage layout may be any ordered KV ... or an embedded store").
type MemStore struct {
	mu           sync.RWMutex
	mappings     map[string]*domain.Mapping
	accountIndex map[string]map[string]struct{}
	closed       map[string]closedEntry
	now          func() time.Time
}

type closedEntry struct {
	record    *domain.RecentlyClosed
	expiresAt time.Time
}

// NewMemStore creates an empty MemStore. now defaults to time.Now; tests
// may override it to exercise TTL expiry deterministically.
func NewMemStore() *MemStore {
	return &MemStore{
		mappings:     make(map[string]*domain.Mapping),
		accountIndex: make(map[string]map[string]struct{}),
		closed:       make(map[string]closedEntry),
		now:          time.Now,
	}
}

// WithClock overrides the store's time source, for TTL tests.
func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) CreateMapping(ctx context.Context, sourceAccountID, sourcePositionID string, mapping *domain.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(sourceAccountID, sourcePositionID)
	if _, exists := s.mappings[key]; exists {
		return nil
	}
	s.mappings[key] = mapping
	if s.accountIndex[sourceAccountID] == nil {
		s.accountIndex[sourceAccountID] = make(map[string]struct{})
	}
	s.accountIndex[sourceAccountID][sourcePositionID] = struct{}{}
	return nil
}

func (s *MemStore) GetMapping(ctx context.Context, sourceAccountID, sourcePositionID string) (*domain.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[cacheKey(sourceAccountID, sourcePositionID)]
	if !ok {
		return nil, nil
	}
	return m, nil
}

func (s *MemStore) GetAccountMappings(ctx context.Context, sourceAccountID string) ([]*domain.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.accountIndex[sourceAccountID]
	out := make([]*domain.Mapping, 0, len(ids))
	for id := range ids {
		if m, ok := s.mappings[cacheKey(sourceAccountID, id)]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemStore) FindByDestPosition(ctx context.Context, destAccountID, destPositionID string, hintSourceAccountIDs []string) (*domain.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sourceAccountID := range hintSourceAccountIDs {
		for id := range s.accountIndex[sourceAccountID] {
			m := s.mappings[cacheKey(sourceAccountID, id)]
			if m != nil && m.DestAccountID == destAccountID && m.DestPositionID == destPositionID {
				return m, nil
			}
		}
	}
	for _, m := range s.mappings {
		if m.DestAccountID == destAccountID && m.DestPositionID == destPositionID {
			return m, nil
		}
	}
	return nil, nil
}

func (s *MemStore) DeleteMapping(ctx context.Context, sourceAccountID, sourcePositionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, cacheKey(sourceAccountID, sourcePositionID))
	delete(s.accountIndex[sourceAccountID], sourcePositionID)
	return nil
}

func (s *MemStore) RecordClose(ctx context.Context, sourceAccountID, sourcePositionID string, closeInfo *domain.RecentlyClosed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[cacheKey(sourceAccountID, sourcePositionID)] = closedEntry{
		record:    closeInfo,
		expiresAt: s.now().Add(DefaultRecentlyClosedTTL),
	}
	return nil
}

func (s *MemStore) WasRecentlyClosed(ctx context.Context, sourceAccountID, sourcePositionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.closed[cacheKey(sourceAccountID, sourcePositionID)]
	if !ok {
		return false, nil
	}
	return s.now().Before(entry.expiresAt), nil
}

func (s *MemStore) Close() error {
	return nil
}
