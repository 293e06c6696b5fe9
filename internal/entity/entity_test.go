package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaos/lensgate/internal/kvstore"
	"github.com/novaos/lensgate/internal/provider"
	"github.com/novaos/lensgate/internal/ratelimit"
)

func TestExtract_DollarTicker(t *testing.T) {
	ents := Extract("what's $AAPL trading at today?")
	require.Len(t, ents, 1)
	assert.Equal(t, "AAPL", ents[0].CanonicalID)
	assert.Equal(t, KindTicker, ents[0].Kind)
}

func TestExtract_BareTicker(t *testing.T) {
	ents := Extract("What's AAPL trading at?")
	require.Len(t, ents, 1)
	assert.Equal(t, "AAPL", ents[0].CanonicalID)
	assert.Equal(t, KindTicker, ents[0].Kind)
}

func TestExtract_CompanyAlias(t *testing.T) {
	ents := Extract("how is Tesla doing this week")
	require.Len(t, ents, 1)
	assert.Equal(t, "TSLA", ents[0].CanonicalID)
}

func TestExtract_CurrencyPairSlashForm(t *testing.T) {
	ents := Extract("convert USD/EUR please")
	require.Len(t, ents, 1)
	assert.Equal(t, KindCurrencyPair, ents[0].Kind)
	assert.Equal(t, "USD/EUR", ents[0].CanonicalID)
}

func TestExtract_CurrencyPhraseForm(t *testing.T) {
	ents := Extract("convert USD to EUR please")
	require.Len(t, ents, 1)
	assert.Equal(t, "USD/EUR", ents[0].CanonicalID)
}

func TestExtract_CryptoAlias(t *testing.T) {
	ents := Extract("what is bitcoin worth")
	require.Len(t, ents, 1)
	assert.Equal(t, KindCrypto, ents[0].Kind)
	assert.Equal(t, "BTC", ents[0].CanonicalID)
}

func TestExtract_Deduplicates(t *testing.T) {
	ents := Extract("$AAPL and $AAPL again")
	assert.Len(t, ents, 1)
}

func TestCanonicalize_Idempotent(t *testing.T) {
	e := Entity{CanonicalID: "usdeur", Kind: KindCurrencyPair}
	once := Canonicalize(e)
	twice := Canonicalize(Entity{CanonicalID: once, Kind: KindCurrencyPair})
	assert.Equal(t, once, twice)
	assert.Equal(t, "USD/EUR", once)
}

type fakeValidatorProvider struct {
	name string
	cat  provider.Category
	err  error
}

func (f *fakeValidatorProvider) Name() string                       { return f.name }
func (f *fakeValidatorProvider) Categories() []provider.Category    { return []provider.Category{f.cat} }
func (f *fakeValidatorProvider) ReliabilityTier() provider.ReliabilityTier {
	return provider.TierOfficial
}
func (f *fakeValidatorProvider) IsAvailable() bool { return true }
func (f *fakeValidatorProvider) Fetch(ctx context.Context, q provider.Query) (provider.FetchRecord, error) {
	if f.err != nil {
		return provider.FetchRecord{}, f.err
	}
	return provider.FetchRecord{Provider: f.name, Category: f.cat, Symbol: q.Symbol, Data: "ok"}, nil
}

func newTestValidator(t *testing.T, p provider.Provider) *Validator {
	t.Helper()
	store := kvstore.NewMemoryStore()
	t.Cleanup(store.Close)
	gate := ratelimit.NewGate([]ratelimit.ProviderConfig{
		{Name: p.Name(), WindowMs: 1000, MaxRequests: 100, PerUserMax: 100},
	})
	reg := provider.NewRegistry(store, gate)
	reg.Register(p)
	return NewValidator(reg)
}

func TestValidator_SkipsHighConfidenceEntities(t *testing.T) {
	v := newTestValidator(t, &fakeValidatorProvider{name: "finnhub", cat: provider.CategoryStockQuote})
	res := v.Validate(context.Background(), "user-1", Entity{CanonicalID: "AAPL", Kind: KindTicker, Category: provider.CategoryStockQuote, Confidence: 0.95})
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "ok", res.ProviderData, "skip only bypasses the validity check, not the data fetch")
}

func TestValidator_ValidatesLowConfidenceEntity(t *testing.T) {
	v := newTestValidator(t, &fakeValidatorProvider{name: "finnhub", cat: provider.CategoryStockQuote})
	res := v.Validate(context.Background(), "user-1", Entity{CanonicalID: "AAPL", Kind: KindTicker, Category: provider.CategoryStockQuote, Confidence: 0.5})
	assert.Equal(t, StatusValid, res.Status)
}

func TestValidator_CachesSecondLookup(t *testing.T) {
	v := newTestValidator(t, &fakeValidatorProvider{name: "finnhub", cat: provider.CategoryStockQuote})
	e := Entity{CanonicalID: "AAPL", Kind: KindTicker, Category: provider.CategoryStockQuote, Confidence: 0.5}

	first := v.Validate(context.Background(), "user-1", e)
	assert.False(t, first.FromCache)

	second := v.Validate(context.Background(), "user-1", e)
	assert.True(t, second.FromCache)
}

func TestValidationCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newValidationCache(10, time.Minute)
	for i := 0; i < 11; i++ {
		c.set(string(rune('a'+i)), ValidationResult{Status: StatusValid})
	}
	assert.LessOrEqual(t, c.len(), 10)
	_, ok := c.get("a")
	assert.False(t, ok, "the least-recently-used key should be evicted")
	_, ok = c.get("k")
	assert.True(t, ok)
}
