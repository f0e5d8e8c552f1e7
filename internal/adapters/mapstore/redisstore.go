// Package mapstore implements the Position-Mapping Store (§4.C): a
// durable mapping repository over a networked ordered KV, fronted by an
// in-process write-through cache (§6.2).
package mapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"copytrader/internal/domain"
	"copytrader/internal/ports"
)

// DefaultRecentlyClosedTTL is the grace window named in §3 ("Recently-
// closed record") during which a stale snapshot must not re-open a
// position this system just closed.
const DefaultRecentlyClosedTTL = 15 * time.Minute

// Config holds construction parameters for Store.
type Config struct {
	Addr              string
	Password          string
	DB                int
	Logger            ports.Logger
	RecentlyClosedTTL time.Duration
}

// Store implements ports.MappingStore against Redis.
type Store struct {
	client *redis.Client
	cache  *cache
	logger ports.Logger
	ttl    time.Duration
}

// New opens a connection to the mapping store and verifies reachability
// with a PING, failing loudly rather than returning a Store that will
// error on first use.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for mapping store")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("mapping store address is required")
	}
	ttl := cfg.RecentlyClosedTTL
	if ttl <= 0 {
		ttl = DefaultRecentlyClosedTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		err = fmt.Errorf("failed to reach mapping store at '%s': %w", cfg.Addr, err)
		cfg.Logger.Error(context.Background(), err, "mapping store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "mapping store connection established", map[string]interface{}{"addr": cfg.Addr})

	return &Store{client: client, cache: newCache(), logger: cfg.Logger, ttl: ttl}, nil
}

func mappingKey(sourceAccountID, sourcePositionID string) string {
	return "map/" + sourceAccountID + "/" + sourcePositionID
}

func indexKey(sourceAccountID string) string {
	return "map_idx/" + sourceAccountID
}

func closedKey(sourceAccountID, sourcePositionID string) string {
	return "closed/" + sourceAccountID + "/" + sourcePositionID
}

// CreateMapping is idempotent on the composite key (§4.C): a pre-existing
// mapping is left untouched so a prior broker execution is never orphaned.
func (s *Store) CreateMapping(ctx context.Context, sourceAccountID, sourcePositionID string, mapping *domain.Mapping) error {
	if existing, _ := s.GetMapping(ctx, sourceAccountID, sourcePositionID); existing != nil {
		return nil
	}

	payload, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, mappingKey(sourceAccountID, sourcePositionID), payload, 0)
	pipe.SAdd(ctx, indexKey(sourceAccountID), sourcePositionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.storeErr("createMapping", err)
	}
	s.cache.put(mapping)
	return nil
}

// GetMapping is cache-first, store-fallback (§4.C).
func (s *Store) GetMapping(ctx context.Context, sourceAccountID, sourcePositionID string) (*domain.Mapping, error) {
	if m, ok := s.cache.get(sourceAccountID, sourcePositionID); ok {
		return m, nil
	}

	raw, err := s.client.Get(ctx, mappingKey(sourceAccountID, sourcePositionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, s.storeErr("getMapping", err)
	}

	var m domain.Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal mapping: %w", err)
	}
	s.cache.put(&m)
	return &m, nil
}

// GetAccountMappings returns every mapping for sourceAccountID, used by
// the Orphan Reconciler (§4.G).
func (s *Store) GetAccountMappings(ctx context.Context, sourceAccountID string) ([]*domain.Mapping, error) {
	ids, err := s.client.SMembers(ctx, indexKey(sourceAccountID)).Result()
	if err != nil {
		return nil, s.storeErr("getAccountMappings", err)
	}

	out := make([]*domain.Mapping, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMapping(ctx, sourceAccountID, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// FindByDestPosition scans the hinted source accounts first (§4.C), then
// falls back to whatever the local cache already knows about.
func (s *Store) FindByDestPosition(ctx context.Context, destAccountID, destPositionID string, hintSourceAccountIDs []string) (*domain.Mapping, error) {
	for _, sourceAccountID := range hintSourceAccountIDs {
		mappings, err := s.GetAccountMappings(ctx, sourceAccountID)
		if err != nil {
			return nil, err
		}
		for _, m := range mappings {
			if m.DestAccountID == destAccountID && m.DestPositionID == destPositionID {
				return m, nil
			}
		}
	}
	if m, ok := s.cache.findByDest(destAccountID, destPositionID); ok {
		return m, nil
	}
	return nil, nil
}

// DeleteMapping removes the mapping record first, then its index entry,
// best-effort in that order per §6.2 ("mapping record first, then index
// membership").
func (s *Store) DeleteMapping(ctx context.Context, sourceAccountID, sourcePositionID string) error {
	if err := s.client.Del(ctx, mappingKey(sourceAccountID, sourcePositionID)).Err(); err != nil {
		return s.storeErr("deleteMapping", err)
	}
	if err := s.client.SRem(ctx, indexKey(sourceAccountID), sourcePositionID).Err(); err != nil {
		s.logger.Warn(ctx, "failed to remove mapping from account index", map[string]interface{}{
			"sourceAccountId": sourceAccountID, "sourcePositionId": sourcePositionID, "error": err.Error(),
		})
	}
	s.cache.invalidate(sourceAccountID, sourcePositionID)
	return nil
}

// RecordClose writes a recently-closed record with the configured TTL.
func (s *Store) RecordClose(ctx context.Context, sourceAccountID, sourcePositionID string, closeInfo *domain.RecentlyClosed) error {
	payload, err := json.Marshal(closeInfo)
	if err != nil {
		return fmt.Errorf("marshal recently-closed record: %w", err)
	}
	if err := s.client.Set(ctx, closedKey(sourceAccountID, sourcePositionID), payload, s.ttl).Err(); err != nil {
		return s.storeErr("recordClose", err)
	}
	return nil
}

// WasRecentlyClosed is a TTL-bounded lookup of RecordClose entries.
func (s *Store) WasRecentlyClosed(ctx context.Context, sourceAccountID, sourcePositionID string) (bool, error) {
	exists, err := s.client.Exists(ctx, closedKey(sourceAccountID, sourcePositionID)).Result()
	if err != nil {
		return false, s.storeErr("wasRecentlyClosed", err)
	}
	return exists > 0, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// storeErr wraps a redis error with ports.ErrStoreUnavailable so callers
// can branch with errors.Is without inspecting the redis package (§7:
// StoreUnavailable → "observation ticks skipped; alert").
func (s *Store) storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ports.ErrStoreUnavailable, err)
}
