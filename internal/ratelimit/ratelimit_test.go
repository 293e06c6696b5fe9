package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/lensgate/internal/kvstore"
)

func TestLimiter_SlidingWindowAllowsUpToLimit(t *testing.T) {
	l := NewLimiter(1000, 3)
	for i := 0; i < 3; i++ {
		d := l.TryAcquire("k")
		assert.True(t, d.Allowed, "request %d should be allowed", i)
	}
	d := l.TryAcquire("k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Current)
}

func TestLimiter_WindowSlidesOverTime(t *testing.T) {
	l := NewLimiter(50, 1)
	w := l.getWindow("k")

	first := w.tryAcquireAt(1000)
	require.True(t, first.Allowed)

	denied := w.tryAcquireAt(1010)
	require.False(t, denied.Allowed)

	allowed := w.tryAcquireAt(1051)
	assert.True(t, allowed.Allowed)
}

func TestGate_LayeredRollbackOnUserDenial(t *testing.T) {
	g := NewGate([]ProviderConfig{
		{Name: "finnhub", WindowMs: 1000, MaxRequests: 2, PerUserMax: 1},
	})

	d1, err := g.TryAcquire("finnhub", "user-1")
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := g.TryAcquire("finnhub", "user-1")
	require.NoError(t, err)
	assert.False(t, d2.Allowed, "second request from the same user in the same window must be denied")

	d3, err := g.TryAcquire("finnhub", "user-2")
	require.NoError(t, err)
	assert.True(t, d3.Allowed, "rollback of the denied user's provider-scope acquisition must leave room for another user")
}

func TestGate_UnknownProviderErrors(t *testing.T) {
	g := NewGate(nil)
	_, err := g.TryAcquire("nope", "user-1")
	assert.Error(t, err)
}

func TestGate_AnonymousCallerSkipsUserScope(t *testing.T) {
	g := NewGate([]ProviderConfig{
		{Name: "finnhub", WindowMs: 1000, MaxRequests: 1, PerUserMax: 1},
	})
	d1, err := g.TryAcquire("finnhub", "")
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := g.TryAcquire("finnhub", "")
	require.NoError(t, err)
	assert.False(t, d2.Allowed, "provider-scope limit still applies to anonymous callers")
}

func TestTierGate_EscalatesToBlockAfterRepeatedViolations(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	defer store.Close()

	tg := NewTierGate(store, map[Tier]TierLimits{
		TierFree: {MaxRequests: 1, WindowMs: 1000},
	})

	d, err := tg.TryAcquire(ctx, "user-1", TierFree)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	for i := 0; i < violationsBeforeBlock; i++ {
		_, err := tg.TryAcquire(ctx, "user-1", TierFree)
		require.NoError(t, err)
	}

	blocked, err := tg.IsBlocked(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, blocked, "user should be blocked after reaching the violation threshold")
}

func TestTierGate_CriticalPatternBlocksImmediately(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	defer store.Close()

	tg := NewTierGate(store, nil)
	require.NoError(t, tg.BlockForCriticalPattern(ctx, "user-2"))

	blocked, err := tg.IsBlocked(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, blocked)

	d, err := tg.TryAcquire(ctx, "user-2", TierFree)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestLimiter_EvictStaleRemovesOldBuckets(t *testing.T) {
	l := NewLimiter(10, 5)
	l.TryAcquire("stale-key")
	w := l.getWindow("stale-key")
	w.lastTouch = time.Now().Add(-time.Hour)

	l.EvictStale()

	l.mu.Lock()
	_, exists := l.windows["stale-key"]
	l.mu.Unlock()
	assert.False(t, exists)
}
