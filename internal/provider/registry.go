package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/novaos/lensgate/internal/kvstore"
	"github.com/novaos/lensgate/internal/ratelimit"
)

const (
	defaultMaxConcurrency = 5
	maxRetries            = 2
	baseBackoff           = 200 * time.Millisecond
	maxBackoff            = 5 * time.Second
	breakerFailThreshold  = 5
	breakerCoolDown       = 30 * time.Second
)

// Registry holds every registered provider, grouped by category and
// ordered within a category by reliability tier, and wraps each fetch
// with cache, rate limiting, retry, and circuit breaking.
type Registry struct {
	cache          kvstore.Store
	gate           *ratelimit.Gate
	byCategory     map[Category][]Provider
	breakers       map[string]*circuitBreaker
	maxConcurrency int
}

// NewRegistry builds an empty Registry. Register providers with Register
// before calling Fetch or FetchAll.
func NewRegistry(cache kvstore.Store, gate *ratelimit.Gate) *Registry {
	return &Registry{
		cache:          cache,
		gate:           gate,
		byCategory:     make(map[Category][]Provider),
		breakers:       make(map[string]*circuitBreaker),
		maxConcurrency: defaultMaxConcurrency,
	}
}

// SetMaxConcurrency overrides the fan-out worker limit (default 5).
func (r *Registry) SetMaxConcurrency(n int) {
	if n > 0 {
		r.maxConcurrency = n
	}
}

// Register adds a provider to every category it declares, inserting it
// in reliability-tier order (official, then feed, then community) so
// Fetch tries the most trustworthy source first.
func (r *Registry) Register(p Provider) {
	r.breakers[p.Name()] = newCircuitBreaker(breakerFailThreshold, breakerCoolDown)
	for _, cat := range p.Categories() {
		providers := append(r.byCategory[cat], p)
		sortByTier(providers)
		r.byCategory[cat] = providers
	}
}

func tierRank(t ReliabilityTier) int {
	switch t {
	case TierOfficial:
		return 0
	case TierFeed:
		return 1
	default:
		return 2
	}
}

func sortByTier(providers []Provider) {
	for i := 1; i < len(providers); i++ {
		j := i
		for j > 0 && tierRank(providers[j].ReliabilityTier()) < tierRank(providers[j-1].ReliabilityTier()) {
			providers[j], providers[j-1] = providers[j-1], providers[j]
			j--
		}
	}
}

// ErrNoProvider is returned when no provider is registered for a
// category, or every registered provider is currently unavailable.
var ErrNoProvider = errors.New("provider: no available provider for category")

// Fetch tries providers for a category in reliability-tier order,
// falling back to the next provider only when the prior one fails with
// a non-retryable-by-fallback outcome (i.e. every error). The first
// success wins.
func (r *Registry) Fetch(ctx context.Context, cat Category, userID string, q Query) (FetchRecord, error) {
	providers := r.byCategory[cat]
	var lastErr error
	for _, p := range providers {
		if !p.IsAvailable() {
			continue
		}
		rec, err := r.fetchCore(ctx, p, userID, q)
		if err == nil {
			return rec, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return FetchRecord{}, lastErr
	}
	return FetchRecord{}, ErrNoProvider
}

// FetchAllParallel issues one fetch per requested (category, query) pair
// concurrently, bounded by maxConcurrency, and returns one record (or
// error) per input in the same order. Use this only when a caller
// explicitly wants parallel mode; Fetch's sequential fallback is the
// default.
func (r *Registry) FetchAllParallel(ctx context.Context, userID string, reqs []struct {
	Category Category
	Query    Query
}) ([]FetchRecord, []error) {
	records := make([]FetchRecord, len(reqs))
	errs := make([]error, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			rec, err := r.Fetch(gctx, req.Category, userID, req.Query)
			records[i] = rec
			errs[i] = err
			return nil // collect per-item errors, don't abort the whole group
		})
	}
	_ = g.Wait()
	return records, errs
}

// fetchCore performs the uniform pipeline: cache lookup, rate-limit
// acquire, breaker check, HTTP fetch with retry/backoff, cache write,
// latency capture.
func (r *Registry) fetchCore(ctx context.Context, p Provider, userID string, q Query) (FetchRecord, error) {
	start := time.Now()
	cacheKey := fmt.Sprintf("%s:%s", p.Name(), normalizeKey(q.Symbol))

	if !q.BypassCache {
		if raw, err := r.cache.Get(ctx, cacheKey); err == nil {
			var rec FetchRecord
			if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
				rec.FromCache = true
				return rec, nil
			}
		}
	}

	decision, err := r.gate.TryAcquire(p.Name(), userID)
	if err != nil {
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "rate limiter error", err)
	}
	if !decision.Allowed {
		fe := classify(p.Name(), ErrRateLimited, "rate limit exceeded", nil)
		fe.RetryAfter = time.Duration(decision.RetryAfterMs) * time.Millisecond
		return FetchRecord{}, fe
	}

	breaker := r.breakers[p.Name()]
	if breaker != nil && !breaker.Allow() {
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "circuit breaker open", nil)
	}

	rec, err := r.fetchWithRetry(ctx, p, q)
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		return FetchRecord{}, err
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}

	rec.LatencyMs = time.Since(start).Milliseconds()
	rec.FetchedAt = time.Now()

	if raw, jsonErr := json.Marshal(rec); jsonErr == nil {
		_ = r.cache.Set(ctx, cacheKey, raw, cacheTTL(rec.Category))
	}
	return rec, nil
}

// fetchWithRetry calls the provider's Fetch, retrying retryable
// failures with exponential backoff and jitter, capped at maxBackoff. A
// non-zero FetchError.RetryAfter replaces the backoff; the shipped
// providers do not parse vendor Retry-After headers and never set it.
func (r *Registry) fetchWithRetry(ctx context.Context, p Provider, q Query) (FetchRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if q.TimeoutMs > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(q.TimeoutMs)*time.Millisecond)
		}
		rec, err := p.Fetch(callCtx, q)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return rec, nil
		}

		var fe *FetchError
		if errors.As(err, &fe) {
			lastErr = fe
			if !fe.Retryable() || attempt == maxRetries {
				return FetchRecord{}, fe
			}
			wait := fe.RetryAfter
			if wait == 0 {
				wait = backoffWithJitter(attempt)
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return FetchRecord{}, ctx.Err()
			}
			continue
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return FetchRecord{}, classify(p.Name(), ErrTimeout, "provider call timed out", err)
		}
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "unclassified fetch error", err)
	}
	return FetchRecord{}, lastErr
}

func backoffWithJitter(attempt int) time.Duration {
	d := baseBackoff * time.Duration(1<<attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d + jitter
}

func normalizeKey(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
