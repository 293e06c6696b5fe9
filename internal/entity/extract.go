// Package entity extracts, canonicalizes, and validates financial and
// reference entities (stock tickers, currency pairs, crypto symbols)
// mentioned in free-form text, backed by provider lookups for
// validation with a bounded LRU cache.
package entity

import (
	"strings"
	"unicode"

	"github.com/novaos/lensgate/internal/provider"
)

// Kind classifies a resolved entity.
type Kind string

const (
	KindTicker       Kind = "ticker"
	KindCurrencyPair Kind = "currency_pair"
	KindCrypto       Kind = "crypto"
)

// Entity is a single extracted and canonicalized mention.
type Entity struct {
	Raw         string
	CanonicalID string
	Kind        Kind
	Category    provider.Category
	Confidence  float64
}

var cryptoAliases = map[string]string{
	"BTC": "BTC", "BITCOIN": "BTC",
	"ETH": "ETH", "ETHEREUM": "ETH",
	"SOL": "SOL", "SOLANA": "SOL",
	"DOGE": "DOGE", "DOGECOIN": "DOGE",
}

var currencyCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "CNY": true, "INR": true, "MXN": true,
}

// companyAliases maps common company names to their primary ticker, used
// when the text names a company rather than quoting its symbol.
var companyAliases = map[string]string{
	"APPLE":     "AAPL",
	"MICROSOFT": "MSFT",
	"GOOGLE":    "GOOG",
	"ALPHABET":  "GOOG",
	"AMAZON":    "AMZN",
	"TESLA":     "TSLA",
	"NVIDIA":    "NVDA",
	"META":      "META",
	"FACEBOOK":  "META",
}

// knownTickers lists bare symbols recognized without a "$" prefix or a
// company name. Bare uppercase words are otherwise too ambiguous with
// ordinary text to extract on their own, so this is a fixed allowlist
// rather than a general [A-Z]{1,5} heuristic.
var knownTickers = map[string]bool{
	"AAPL": true, "MSFT": true, "GOOG": true, "GOOGL": true, "AMZN": true,
	"TSLA": true, "NVDA": true, "META": true, "NFLX": true, "AMD": true,
	"INTC": true, "IBM": true, "ORCL": true, "CRM": true, "UBER": true,
	"PYPL": true, "DIS": true,
}

// Extract scans text for ticker, currency-pair, and crypto mentions
// using plain tokenized scanners (no backtracking regex) and returns one
// Entity per match, deduplicated by canonical ID.
func Extract(text string) []Entity {
	tokens := tokenize(text)
	seen := make(map[string]bool)
	var out []Entity

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if e, ok := matchDollarTicker(tok); ok {
			if !seen[e.CanonicalID] {
				seen[e.CanonicalID] = true
				out = append(out, e)
			}
			continue
		}
		if e, ok := matchCompanyAlias(tok); ok {
			if !seen[e.CanonicalID] {
				seen[e.CanonicalID] = true
				out = append(out, e)
			}
			continue
		}
		if e, ok := matchBareTicker(tok); ok {
			if !seen[e.CanonicalID] {
				seen[e.CanonicalID] = true
				out = append(out, e)
			}
			continue
		}
		if e, ok := matchCryptoAlias(tok); ok {
			if !seen[e.CanonicalID] {
				seen[e.CanonicalID] = true
				out = append(out, e)
			}
			continue
		}
		if i+2 < len(tokens) && strings.EqualFold(tokens[i+1], "to") {
			if e, ok := matchCurrencyPhrase(tok, tokens[i+2]); ok {
				if !seen[e.CanonicalID] {
					seen[e.CanonicalID] = true
					out = append(out, e)
				}
				i += 2
				continue
			}
		}
		if e, ok := matchCurrencyPair(tok); ok {
			if !seen[e.CanonicalID] {
				seen[e.CanonicalID] = true
				out = append(out, e)
			}
			continue
		}
	}
	return out
}

func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == '$' || r == '/' || unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func matchDollarTicker(tok string) (Entity, bool) {
	if !strings.HasPrefix(tok, "$") {
		return Entity{}, false
	}
	sym := strings.ToUpper(tok[1:])
	if len(sym) < 1 || len(sym) > 5 || !isAllUpperLetters(sym) {
		return Entity{}, false
	}
	return Entity{Raw: tok, CanonicalID: sym, Kind: KindTicker, Category: provider.CategoryStockQuote, Confidence: 0.95}, true
}

func matchCompanyAlias(tok string) (Entity, bool) {
	upper := strings.ToUpper(tok)
	ticker, ok := companyAliases[upper]
	if !ok {
		return Entity{}, false
	}
	return Entity{Raw: tok, CanonicalID: ticker, Kind: KindTicker, Category: provider.CategoryStockQuote, Confidence: 0.8}, true
}

// matchBareTicker recognizes a fixed allowlist of well-known symbols
// written without a "$" prefix, e.g. "AAPL" in "what's AAPL trading at".
func matchBareTicker(tok string) (Entity, bool) {
	upper := strings.ToUpper(tok)
	if !knownTickers[upper] {
		return Entity{}, false
	}
	return Entity{Raw: tok, CanonicalID: upper, Kind: KindTicker, Category: provider.CategoryStockQuote, Confidence: 0.9}, true
}

func matchCryptoAlias(tok string) (Entity, bool) {
	upper := strings.ToUpper(tok)
	canon, ok := cryptoAliases[upper]
	if !ok {
		return Entity{}, false
	}
	return Entity{Raw: tok, CanonicalID: canon, Kind: KindCrypto, Category: provider.CategoryCrypto, Confidence: 0.9}, true
}

// matchCurrencyPair handles both "USD/EUR" and bare "USDEUR" forms.
func matchCurrencyPair(tok string) (Entity, bool) {
	upper := strings.ToUpper(tok)
	if i := strings.IndexByte(upper, '/'); i > 0 {
		base, quote := upper[:i], upper[i+1:]
		if currencyCodes[base] && currencyCodes[quote] {
			return pairEntity(base, quote), true
		}
		return Entity{}, false
	}
	if len(upper) == 6 && currencyCodes[upper[:3]] && currencyCodes[upper[3:]] {
		return pairEntity(upper[:3], upper[3:]), true
	}
	return Entity{}, false
}

// matchCurrencyPhrase handles "USD to EUR" style phrasing, where the
// caller has already checked tokens[i+1] == "to".
func matchCurrencyPhrase(base, quote string) (Entity, bool) {
	b, q := strings.ToUpper(base), strings.ToUpper(quote)
	if currencyCodes[b] && currencyCodes[q] {
		return pairEntity(b, q), true
	}
	return Entity{}, false
}

func pairEntity(base, quote string) Entity {
	canon := base + "/" + quote
	return Entity{Raw: canon, CanonicalID: canon, Kind: KindCurrencyPair, Category: provider.CategoryExchangeRate, Confidence: 0.85}
}

func isAllUpperLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return len(s) > 0
}

// Canonicalize is idempotent: canonicalizing an already-canonical ID
// returns it unchanged.
func Canonicalize(e Entity) string {
	switch e.Kind {
	case KindCurrencyPair:
		if strings.Contains(e.CanonicalID, "/") {
			return strings.ToUpper(e.CanonicalID)
		}
		if len(e.CanonicalID) == 6 {
			up := strings.ToUpper(e.CanonicalID)
			return up[:3] + "/" + up[3:]
		}
		return strings.ToUpper(e.CanonicalID)
	default:
		return strings.ToUpper(e.CanonicalID)
	}
}
