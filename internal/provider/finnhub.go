package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StockQuote is the decoded payload for CategoryStockQuote.
type StockQuote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previousClose"`
}

type finnhubQuoteResponse struct {
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	DP float64 `json:"dp"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	O  float64 `json:"o"`
	PC float64 `json:"pc"`
}

// FinnhubProvider serves real-time stock quotes from finnhub.io. It is
// the official-tier provider for CategoryStockQuote.
type FinnhubProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewFinnhubProvider builds a FinnhubProvider. apiKey comes from the
// FINNHUB_API_KEY environment variable; an empty key makes the provider
// report itself unavailable so callers fall back to the next tier.
func NewFinnhubProvider(apiKey string) *FinnhubProvider {
	return &FinnhubProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://finnhub.io/api/v1",
	}
}

func (p *FinnhubProvider) Name() string                       { return "finnhub" }
func (p *FinnhubProvider) Categories() []Category             { return []Category{CategoryStockQuote} }
func (p *FinnhubProvider) ReliabilityTier() ReliabilityTier    { return TierOfficial }
func (p *FinnhubProvider) IsAvailable() bool                  { return p.apiKey != "" }

// Fetch retrieves a quote for q.Symbol. It performs the raw HTTP call
// and decode only; cache, rate limiting, retry, and breaker logic live
// in the Registry's fetchCore wrapper around this call.
func (p *FinnhubProvider) Fetch(ctx context.Context, q Query) (FetchRecord, error) {
	if !p.IsAvailable() {
		return FetchRecord{}, classify(p.Name(), ErrUnauthorized, "missing FINNHUB_API_KEY", nil)
	}
	if q.Symbol == "" {
		return FetchRecord{}, classify(p.Name(), ErrInvalidSymbol, "empty symbol", nil)
	}

	url := fmt.Sprintf("%s/quote?symbol=%s&token=%s", p.baseURL, q.Symbol, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "build request", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchRecord{}, classify(p.Name(), ErrTimeout, "request timed out", err)
		}
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "http do", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "read body", err)
	}

	if code, ferr := httpStatusError(p.Name(), resp.StatusCode, body); ferr != nil {
		_ = code
		return FetchRecord{}, ferr
	}

	var raw finnhubQuoteResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "decode response", err)
	}
	if raw.C == 0 && raw.O == 0 && raw.PC == 0 {
		return FetchRecord{}, classify(p.Name(), ErrSymbolNotFound, "symbol not found", nil)
	}

	quote := StockQuote{
		Symbol: q.Symbol, Price: raw.C, Change: raw.D, ChangePercent: raw.DP,
		High: raw.H, Low: raw.L, Open: raw.O, PreviousClose: raw.PC,
	}
	return FetchRecord{Provider: p.Name(), Category: CategoryStockQuote, Symbol: q.Symbol, Data: quote}, nil
}

// httpStatusError classifies a non-2xx HTTP status into a FetchError,
// shared across every HTTP-backed provider so vendor-specific quirks
// don't leak into the error taxonomy callers see.
func httpStatusError(providerName string, status int, body []byte) (int, *FetchError) {
	switch {
	case status >= 200 && status < 300:
		return status, nil
	case status == 401 || status == 403:
		return status, classify(providerName, ErrUnauthorized, "vendor rejected credentials", nil)
	case status == 429:
		return status, classify(providerName, ErrRateLimited, "vendor rate limit", nil)
	case status >= 400 && status < 500:
		return status, classify(providerName, ErrHTTP4xx, fmt.Sprintf("status %d: %s", status, truncate(body, 200)), nil)
	case status >= 500:
		return status, classify(providerName, ErrHTTP5xx, fmt.Sprintf("status %d", status), nil)
	default:
		return status, classify(providerName, ErrFetchError, fmt.Sprintf("unexpected status %d", status), nil)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
