package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerAlertsOnceAtThreshold(t *testing.T) {
	b := New()
	now := time.Now()

	assert.False(t, b.RecordFailure("acct-1", false, now))
	assert.False(t, b.RecordFailure("acct-1", false, now.Add(time.Second)))
	assert.True(t, b.RecordFailure("acct-1", false, now.Add(2*time.Second)), "third consecutive failure should alert")

	// Four more failures inside the cooldown window emit nothing further.
	for i := 0; i < 4; i++ {
		assert.False(t, b.RecordFailure("acct-1", false, now.Add(time.Duration(3+i)*time.Second)))
	}
}

func TestBreakerSuccessResetsCounterAndSuppression(t *testing.T) {
	b := New()
	now := time.Now()
	for i := 0; i < 3; i++ {
		b.RecordFailure("acct-1", false, now.Add(time.Duration(i)*time.Second))
	}

	b.RecordSuccess("acct-1")

	later := now.Add(time.Minute)
	assert.False(t, b.RecordFailure("acct-1", false, later))
	assert.False(t, b.RecordFailure("acct-1", false, later.Add(time.Second)))
	assert.True(t, b.RecordFailure("acct-1", false, later.Add(2*time.Second)))
}

func TestBreakerResetsStaleFailureStreak(t *testing.T) {
	b := New()
	now := time.Now()

	b.RecordFailure("acct-1", false, now)
	b.RecordFailure("acct-1", false, now.Add(time.Second))

	// A failure more than resetWindow later must not simply increment to 3.
	stale := now.Add(time.Second + DefaultResetWindow + time.Second)
	assert.False(t, b.RecordFailure("acct-1", false, stale))
}

func TestBreakerIgnoresConnectionRefused(t *testing.T) {
	b := New()
	now := time.Now()

	for i := 0; i < 10; i++ {
		assert.False(t, b.RecordFailure("acct-1", true, now.Add(time.Duration(i)*time.Millisecond)))
	}

	snap := b.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, 0, snap[0].ConsecutiveFails)
}

func TestBreakerNeverBlocksTrading(t *testing.T) {
	// The breaker has no method that can refuse a trading call: it only
	// ever returns whether to alert. This test documents that contract.
	b := New()
	now := time.Now()
	for i := 0; i < 20; i++ {
		b.RecordFailure("acct-1", false, now.Add(time.Duration(i)*time.Millisecond))
	}
	// No "CanTrade" or "IsOpen" method exists on Breaker; trading callers
	// never consult it before attempting an operation.
	assert.NotNil(t, b)
}
