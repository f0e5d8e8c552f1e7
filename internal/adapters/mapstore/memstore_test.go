package mapstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/domain"
)

func sampleMapping() *domain.Mapping {
	return &domain.Mapping{
		SourceAccountID:  "S1",
		SourcePositionID: "111",
		DestAccountID:    "D1",
		DestPositionID:   "555",
		SourceSymbol:     "XAUUSD",
		DestSymbol:       "XAUUSDm",
		SourceVolume:     decimal.NewFromFloat(0.10),
		DestVolume:       decimal.NewFromFloat(0.20),
		SourceOpenPrice:  decimal.NewFromFloat(3050.00),
		DestOpenPrice:    decimal.NewFromFloat(3050.10),
		OpenTime:         time.Now(),
		MappedAt:         time.Now(),
		State:            domain.StateOpen,
	}
}

// §8.8 round-trip: create -> get -> delete -> get returns the stored
// record then none, respectively.
func TestRoundTripCreateGetDeleteGet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	m := sampleMapping()

	require.NoError(t, store.CreateMapping(ctx, m.SourceAccountID, m.SourcePositionID, m))

	got, err := store.GetMapping(ctx, "S1", "111")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "D1", got.DestAccountID)
	assert.Equal(t, "555", got.DestPositionID)

	require.NoError(t, store.DeleteMapping(ctx, "S1", "111"))

	got, err = store.GetMapping(ctx, "S1", "111")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// CreateMapping must not overwrite destPositionId on a second call for the
// same composite key (§4.C).
func TestCreateMappingIsIdempotentAndDoesNotOverwrite(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	first := sampleMapping()
	require.NoError(t, store.CreateMapping(ctx, first.SourceAccountID, first.SourcePositionID, first))

	second := sampleMapping()
	second.DestPositionID = "999"
	require.NoError(t, store.CreateMapping(ctx, second.SourceAccountID, second.SourcePositionID, second))

	got, err := store.GetMapping(ctx, "S1", "111")
	require.NoError(t, err)
	assert.Equal(t, "555", got.DestPositionID, "second create must not orphan the first broker execution")
}

func TestGetAccountMappingsReturnsFullSet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	m1 := sampleMapping()
	m2 := sampleMapping()
	m2.SourcePositionID = "222"
	m2.DestPositionID = "666"
	require.NoError(t, store.CreateMapping(ctx, m1.SourceAccountID, m1.SourcePositionID, m1))
	require.NoError(t, store.CreateMapping(ctx, m2.SourceAccountID, m2.SourcePositionID, m2))

	all, err := store.GetAccountMappings(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFindByDestPositionUsesHintedAccountsFirst(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	m := sampleMapping()
	require.NoError(t, store.CreateMapping(ctx, m.SourceAccountID, m.SourcePositionID, m))

	found, err := store.FindByDestPosition(ctx, "D1", "555", []string{"S1"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "111", found.SourcePositionID)

	notFound, err := store.FindByDestPosition(ctx, "D1", "000", []string{"S1"})
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

// §8.5: within the TTL a duplicate "appeared" observation must be
// suppressed; after the TTL it must not be.
func TestWasRecentlyClosedRespectsTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemStore().WithClock(clock)
	ctx := context.Background()

	require.NoError(t, store.RecordClose(ctx, "S1", "111", &domain.RecentlyClosed{
		SourceAccountID: "S1", SourcePositionID: "111", ClosedAt: now, Outcome: domain.CloseOutcomeClosed,
	}))

	recently, err := store.WasRecentlyClosed(ctx, "S1", "111")
	require.NoError(t, err)
	assert.True(t, recently)

	now = now.Add(DefaultRecentlyClosedTTL + time.Second)
	recently, err = store.WasRecentlyClosed(ctx, "S1", "111")
	require.NoError(t, err)
	assert.False(t, recently, "TTL must have expired")
}

func TestDeleteMappingIsSafeWhenNothingExists(t *testing.T) {
	store := NewMemStore()
	assert.NoError(t, store.DeleteMapping(context.Background(), "S1", "nope"))
}
