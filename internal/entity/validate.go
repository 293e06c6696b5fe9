package entity

import (
	"context"
	"time"

	"github.com/novaos/lensgate/internal/provider"
)

// Status is the outcome of validating an entity against its provider.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusUnknown Status = "unknown"
	StatusSkipped Status = "skipped"
)

// ValidationResult is the outcome of resolving one entity against its
// backing provider.
type ValidationResult struct {
	Status           Status
	Provider         string
	ValidationTimeMs int64
	FromCache        bool
	ProviderData     any
	Suggestions      []string
}

// skipConfidenceThreshold: entities the extractor already resolved with
// confidence at or above this are not given a validity verdict (their
// status is StatusSkipped); the provider is still fetched for their data.
const skipConfidenceThreshold = 0.9

// Validator validates extracted entities against the provider registry,
// marking high-confidence extractions as skipped rather than validated
// and caching every result.
type Validator struct {
	registry *provider.Registry
	cache    *validationCache
}

// NewValidator builds a Validator backed by registry, with a 1000-entry,
// 5-minute-TTL LRU cache of prior validation outcomes.
func NewValidator(registry *provider.Registry) *Validator {
	return &Validator{registry: registry, cache: newValidationCache(defaultCapacity, defaultTTL)}
}

// Validate resolves e against its provider, consulting the cache first.
// When e's own extraction confidence already clears
// skipConfidenceThreshold, the independent validity check against
// ErrSymbolNotFound/ErrInvalidSymbol is skipped and e is trusted as
// resolved - but the provider is still fetched, since the caller needs
// the live numeric data regardless of how confident the extraction was.
func (v *Validator) Validate(ctx context.Context, userID string, e Entity) ValidationResult {
	trusted := e.Confidence >= skipConfidenceThreshold

	cacheKey := string(e.Kind) + ":" + e.CanonicalID
	if cached, ok := v.cache.get(cacheKey); ok {
		cached.FromCache = true
		return cached
	}

	start := time.Now()
	rec, err := v.registry.Fetch(ctx, e.Category, userID, provider.Query{Symbol: e.CanonicalID})
	elapsed := time.Since(start).Milliseconds()

	var result ValidationResult
	switch {
	case err == nil:
		status := StatusValid
		if trusted {
			status = StatusSkipped
		}
		result = ValidationResult{Status: status, Provider: rec.Provider, ValidationTimeMs: elapsed, ProviderData: rec.Data}
	case isNotFoundErr(err):
		result = ValidationResult{Status: StatusInvalid, ValidationTimeMs: elapsed}
	default:
		result = ValidationResult{Status: StatusUnknown, ValidationTimeMs: elapsed}
	}

	v.cache.set(cacheKey, result)
	return result
}

func isNotFoundErr(err error) bool {
	fe, ok := err.(*provider.FetchError)
	if !ok {
		return false
	}
	return fe.Code == provider.ErrSymbolNotFound || fe.Code == provider.ErrInvalidSymbol
}

// CacheLen reports the current cache size, used by health/status
// reporting.
func (v *Validator) CacheLen() int { return v.cache.len() }
