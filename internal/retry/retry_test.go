package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	ok := Do(context.Background(), Fixed(time.Millisecond, time.Millisecond), func(ctx context.Context, n int, last bool) Outcome {
		calls++
		return Done
	})
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	ok := Do(context.Background(), Fixed(time.Millisecond, time.Millisecond), func(ctx context.Context, n int, last bool) Outcome {
		calls++
		if calls < 3 {
			return Retry
		}
		return Done
	})
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	ok := Do(context.Background(), Fixed(time.Millisecond, time.Millisecond), func(ctx context.Context, n int, last bool) Outcome {
		calls++
		return Retry
	})
	assert.False(t, ok)
	assert.Equal(t, 3, calls) // 2 delays => 3 attempts
}

func TestDoAbortsImmediately(t *testing.T) {
	calls := 0
	ok := Do(context.Background(), Fixed(time.Second, time.Second), func(ctx context.Context, n int, last bool) Outcome {
		calls++
		return Abort
	})
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ok := Do(ctx, Fixed(50*time.Millisecond, 50*time.Millisecond), func(ctx context.Context, n int, last bool) Outcome {
		calls++
		if n == 1 {
			cancel()
		}
		return Retry
	})
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}
