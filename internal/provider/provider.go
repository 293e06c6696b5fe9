// Package provider fetches market and reference data from third-party
// data vendors through a uniform pipeline: cache lookup, rate-limit
// acquire, HTTP call under a deadline, response parse, error
// classification, cache write, and latency capture. Concrete vendors
// implement the Provider interface; the Registry selects among same-
// category providers by reliability tier and fans out bounded-parallel
// calls via errgroup.
package provider

import (
	"context"
	"time"
)

// ReliabilityTier orders providers within a category: official vendor
// APIs are tried before community-maintained feeds.
type ReliabilityTier string

const (
	TierOfficial  ReliabilityTier = "official"
	TierFeed      ReliabilityTier = "feed"
	TierCommunity ReliabilityTier = "community"
)

// Category is the kind of data a provider serves.
type Category string

const (
	CategoryStockQuote    Category = "stock_quote"
	CategoryWeather       Category = "weather"
	CategoryExchangeRate  Category = "exchange_rate"
	CategoryCrypto        Category = "crypto"
)

// ErrorCode is a stable classification of a fetch failure, independent
// of the originating vendor's own error vocabulary.
type ErrorCode string

const (
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrInvalidSymbol  ErrorCode = "INVALID_SYMBOL"
	ErrSymbolNotFound ErrorCode = "SYMBOL_NOT_FOUND"
	ErrHTTP4xx        ErrorCode = "HTTP_4xx"
	ErrHTTP5xx        ErrorCode = "HTTP_5xx"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrFetchError     ErrorCode = "FETCH_ERROR"
)

// retryableCodes lists which classified errors are worth retrying with
// backoff. Everything else (bad symbol, unauthorized) will fail the same
// way on a retry, so there's no point spending the attempt.
var retryableCodes = map[ErrorCode]bool{
	ErrRateLimited: true,
	ErrHTTP5xx:     true,
	ErrTimeout:     true,
	ErrFetchError:  true,
}

// FetchError is a classified provider failure.
type FetchError struct {
	Code       ErrorCode
	Provider   string
	Message    string
	RetryAfter time.Duration // set by the Registry from a local rate-limit denial; vendor Retry-After headers are not read
	cause      error
}

func (e *FetchError) Error() string {
	if e.cause != nil {
		return e.Provider + ": " + string(e.Code) + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Provider + ": " + string(e.Code) + ": " + e.Message
}

func (e *FetchError) Unwrap() error { return e.cause }

// Retryable reports whether this error's code is worth a backoff retry.
func (e *FetchError) Retryable() bool { return retryableCodes[e.Code] }

func classify(provider string, code ErrorCode, msg string, cause error) *FetchError {
	return &FetchError{Code: code, Provider: provider, Message: msg, cause: cause}
}

// Query is a single fetch request against a provider.
type Query struct {
	Symbol      string
	BypassCache bool
	TimeoutMs   int64
}

// FetchRecord is the uniform result envelope a provider call produces,
// regardless of category: raw vendor payload decoded into Data, plus the
// bookkeeping every caller needs (cache provenance, latency, source).
type FetchRecord struct {
	Provider    string
	Category    Category
	Symbol      string
	Data        any
	FetchedAt   time.Time
	FromCache   bool
	LatencyMs   int64
}

// Provider is the contract every vendor integration implements. Fetch
// must itself be side-effect-free with respect to caching and rate
// limiting — those concerns live in the Registry's wrapper, not in the
// vendor client, so every provider gets them uniformly.
type Provider interface {
	Name() string
	Categories() []Category
	ReliabilityTier() ReliabilityTier
	IsAvailable() bool
	// Fetch performs the raw vendor HTTP call and decodes the payload.
	// It does not consult the cache or the rate limiter; the Registry's
	// fetch wrapper (fetchCore) does that around this call.
	Fetch(ctx context.Context, q Query) (FetchRecord, error)
}

// cacheTTL returns the cache lifetime for a category: short for data
// that moves every tick, longer for data that's stable for minutes.
func cacheTTL(c Category) time.Duration {
	switch c {
	case CategoryStockQuote, CategoryCrypto:
		return 15 * time.Second
	case CategoryExchangeRate:
		return 60 * time.Second
	case CategoryWeather:
		return 10 * time.Minute
	default:
		return 30 * time.Second
	}
}
