package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// ExchangeRateReading is the decoded payload for CategoryExchangeRate.
type ExchangeRateReading struct {
	Base  string  `json:"base"`
	Quote string  `json:"quote"`
	Rate  float64 `json:"rate"`
}

type exchangeRateAPIResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"conversion_rates"`
}

// ExchangeRateProvider serves FX rates from a free, unauthenticated
// aggregator feed. It is the feed-tier fallback for CategoryExchangeRate
// since it carries no official SLA.
type ExchangeRateProvider struct {
	httpClient *http.Client
	baseURL    string
}

// NewExchangeRateProvider builds an ExchangeRateProvider. No API key is
// required; IsAvailable always reports true.
func NewExchangeRateProvider() *ExchangeRateProvider {
	return &ExchangeRateProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://open.er-api.com/v6/latest",
	}
}

func (p *ExchangeRateProvider) Name() string                    { return "exchangerate" }
func (p *ExchangeRateProvider) Categories() []Category          { return []Category{CategoryExchangeRate} }
func (p *ExchangeRateProvider) ReliabilityTier() ReliabilityTier { return TierFeed }
func (p *ExchangeRateProvider) IsAvailable() bool                { return true }

// Fetch expects q.Symbol in "BASE/QUOTE" form (e.g. "USD/EUR").
func (p *ExchangeRateProvider) Fetch(ctx context.Context, q Query) (FetchRecord, error) {
	base, quote, ok := splitPair(q.Symbol)
	if !ok {
		return FetchRecord{}, classify(p.Name(), ErrInvalidSymbol, "expected BASE/QUOTE pair", nil)
	}

	reqURL := p.baseURL + "/" + base
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
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
	if _, ferr := httpStatusError(p.Name(), resp.StatusCode, body); ferr != nil {
		return FetchRecord{}, ferr
	}

	var raw exchangeRateAPIResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return FetchRecord{}, classify(p.Name(), ErrFetchError, "decode response", err)
	}
	if raw.Result != "success" {
		return FetchRecord{}, classify(p.Name(), ErrInvalidSymbol, "unknown base currency", nil)
	}
	rate, ok := raw.Rates[quote]
	if !ok {
		return FetchRecord{}, classify(p.Name(), ErrSymbolNotFound, "unknown quote currency", nil)
	}

	reading := ExchangeRateReading{Base: base, Quote: quote, Rate: rate}
	return FetchRecord{Provider: p.Name(), Category: CategoryExchangeRate, Symbol: q.Symbol, Data: reading}, nil
}

func splitPair(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, '/'); i > 0 && i < len(s)-1 {
		return s[:i], s[i+1:], true
	}
	if len(s) == 6 {
		return s[:3], s[3:], true
	}
	return "", "", false
}
