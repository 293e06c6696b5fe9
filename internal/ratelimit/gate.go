package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/novaos/lensgate/internal/kvstore"
)

// ProviderConfig configures a single provider's own limits; the gate also
// needs a per-user-per-provider limiter so one user can't starve a shared
// provider budget, and a user-tier-global limiter from TierConfig.
type ProviderConfig struct {
	Name          string
	WindowMs      int64
	MaxRequests   int
	PerUserMax    int // limit within the same window for a single user against this provider
}

// Gate composes the layered provider -> user-provider check: acquire the
// provider-scope limiter first; if that succeeds, acquire the
// user-provider-scope limiter; if the second check fails, roll back the
// first so the provider-wide count is unaffected by a decision that,
// overall, denied the caller.
type Gate struct {
	providerLimiters map[string]*Limiter
	userLimiters     map[string]*Limiter
	configs          map[string]ProviderConfig
}

// NewGate builds a Gate with one provider-scope and one user-provider-
// scope Limiter per configured provider.
func NewGate(configs []ProviderConfig) *Gate {
	g := &Gate{
		providerLimiters: make(map[string]*Limiter, len(configs)),
		userLimiters:     make(map[string]*Limiter, len(configs)),
		configs:          make(map[string]ProviderConfig, len(configs)),
	}
	for _, c := range configs {
		g.providerLimiters[c.Name] = NewLimiter(c.WindowMs, c.MaxRequests)
		g.userLimiters[c.Name] = NewLimiter(c.WindowMs, c.PerUserMax)
		g.configs[c.Name] = c
	}
	return g
}

// TryAcquire performs the layered provider -> user-provider decision for
// an anonymous caller (userID == "") by skipping the user-scope layer, or
// for an authenticated caller by enforcing both layers atomically (the
// rollback rule keeps the provider-scope count correct when the
// user-scope layer is the one that denies).
func (g *Gate) TryAcquire(provider string, userID string) (Decision, error) {
	pl, ok := g.providerLimiters[provider]
	if !ok {
		return Decision{}, fmt.Errorf("ratelimit: unknown provider %q", provider)
	}

	nowMs := time.Now().UnixMilli()
	providerDecision := pl.getWindow(provider).tryAcquireAt(nowMs)
	if !providerDecision.Allowed {
		return providerDecision, nil
	}
	if userID == "" {
		return providerDecision, nil
	}

	ul := g.userLimiters[provider]
	userKey := provider + ":" + userID
	userDecision := ul.getWindow(userKey).tryAcquireAt(nowMs)
	if !userDecision.Allowed {
		pl.rollbackAt(provider, nowMs)
		return userDecision, nil
	}
	return userDecision, nil
}

// EvictStale sweeps both limiter layers for every configured provider.
func (g *Gate) EvictStale() {
	for _, l := range g.providerLimiters {
		l.EvictStale()
	}
	for _, l := range g.userLimiters {
		l.EvictStale()
	}
}

// Tier is a subscription tier with its own global request ceiling,
// independent of any single provider's budget.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits is the configured ceiling for one tier.
type TierLimits struct {
	MaxRequests int
	WindowMs    int64
}

// DefaultTierLimits mirrors a typical freemium ladder; callers may
// override via NewTierGate.
var DefaultTierLimits = map[Tier]TierLimits{
	TierFree:       {MaxRequests: 20, WindowMs: int64(time.Minute / time.Millisecond)},
	TierPro:        {MaxRequests: 120, WindowMs: int64(time.Minute / time.Millisecond)},
	TierEnterprise: {MaxRequests: 600, WindowMs: int64(time.Minute / time.Millisecond)},
}

const (
	violationsBeforeBlock = 5
	violationBlockTTL     = 15 * time.Minute
	criticalBlockTTL      = 60 * time.Minute
)

// TierGate enforces the per-user-per-tier-global ceiling and the
// escalation rule: five violations in the rolling window blocks the user
// for 15 minutes; a critical abuse pattern match blocks for 60 minutes.
// Block state is held in the KV store so it survives process restarts
// when a durable backend is configured. The tier ceiling itself is a
// coarse token bucket (golang.org/x/time/rate) rather than the
// sliding-window scopes in Gate — tier enforcement doesn't need the
// rollback semantics those scopes require, just a steady refill rate.
type TierGate struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter // keyed by tier:userID
	limits   map[Tier]TierLimits
	store    kvstore.Store
}

// NewTierGate builds a TierGate. Pass nil limits to use DefaultTierLimits.
func NewTierGate(store kvstore.Store, limits map[Tier]TierLimits) *TierGate {
	if limits == nil {
		limits = DefaultTierLimits
	}
	return &TierGate{limiters: make(map[string]*rate.Limiter), limits: limits, store: store}
}

func (tg *TierGate) bucketFor(tier Tier, userID string) (*rate.Limiter, error) {
	l, ok := tg.limits[tier]
	if !ok {
		return nil, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}
	key := string(tier) + ":" + userID

	tg.mu.Lock()
	defer tg.mu.Unlock()
	b, ok := tg.limiters[key]
	if !ok {
		window := time.Duration(l.WindowMs) * time.Millisecond
		refillPerSec := float64(l.MaxRequests) / window.Seconds()
		b = rate.NewLimiter(rate.Limit(refillPerSec), l.MaxRequests)
		tg.limiters[key] = b
	}
	return b, nil
}

func blockKey(userID string) string { return "ratelimit:block:" + userID }
func violationKey(userID string) string { return "ratelimit:violations:" + userID }

// IsBlocked reports whether userID is currently under an escalation block.
func (tg *TierGate) IsBlocked(ctx context.Context, userID string) (bool, error) {
	_, err := tg.store.Get(ctx, blockKey(userID))
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TryAcquire enforces the tier-global ceiling for userID. On denial it
// records a violation and, once violationsBeforeBlock is reached within
// the tier window, installs a 15-minute block.
func (tg *TierGate) TryAcquire(ctx context.Context, userID string, tier Tier) (Decision, error) {
	blocked, err := tg.IsBlocked(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return Decision{Allowed: false}, nil
	}

	bucket, err := tg.bucketFor(tier, userID)
	if err != nil {
		return Decision{}, err
	}
	allowed := bucket.Allow()
	limit := tg.limits[tier].MaxRequests
	decision := Decision{Allowed: allowed, Limit: limit}
	if allowed {
		return decision, nil
	}

	nowMs := time.Now().UnixMilli()
	vkey := violationKey(userID)
	if err := tg.store.ZAdd(ctx, vkey, float64(nowMs), fmt.Sprint(time.Now().UnixNano())); err != nil {
		return decision, err
	}
	stale, err := tg.store.ZRangeByScore(ctx, vkey, 0, float64(nowMs-tg.limits[tier].WindowMs))
	if err != nil {
		return decision, err
	}
	for _, m := range stale {
		_ = tg.store.ZRem(ctx, vkey, m)
	}
	n, err := tg.store.ZCard(ctx, vkey)
	if err != nil {
		return decision, err
	}
	if n >= violationsBeforeBlock {
		if err := tg.store.Set(ctx, blockKey(userID), []byte("violation_escalation"), violationBlockTTL); err != nil {
			return decision, err
		}
		_ = tg.store.Delete(ctx, violationKey(userID))
	}
	return decision, nil
}

// BlockForCriticalPattern installs the harsher 60-minute block used when a
// critical-severity abuse pattern is matched (see internal/sanitize),
// independent of the ordinary violation counter.
func (tg *TierGate) BlockForCriticalPattern(ctx context.Context, userID string) error {
	return tg.store.Set(ctx, blockKey(userID), []byte("critical_abuse_pattern"), criticalBlockTTL)
}
