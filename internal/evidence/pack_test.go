package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_DedupesByContextKeyAndSourceKeepingFreshest(t *testing.T) {
	b := NewBuilder(true)
	older := time.Now().Add(-time.Minute)
	newer := time.Now()

	b.Add("AAPL.price", 190.0, "finnhub", older, 0.9, "")
	b.Add("AAPL.price", 192.5, "finnhub", newer, 0.9, "")

	pack := b.Seal(time.Hour)
	tokens := pack.Tokens()
	require.Len(t, tokens, 1)
	assert.Equal(t, 192.5, tokens[0].Value)
}

func TestBuilder_CapsAtFiftyDroppingLowestConfidence(t *testing.T) {
	b := NewBuilder(true)
	for i := 0; i < 60; i++ {
		confidence := float64(i) / 100.0
		b.Add(keyFor(i), float64(i), "source", time.Now(), confidence, "")
	}
	pack := b.Seal(time.Hour)
	assert.Len(t, pack.Tokens(), maxPackSize)
	for _, tok := range pack.Tokens() {
		assert.GreaterOrEqual(t, tok.Confidence, 0.10)
	}
}

func keyFor(i int) string {
	return string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestBuilder_NumericPrecisionAllowedFalseWhenEmpty(t *testing.T) {
	b := NewBuilder(true)
	pack := b.Seal(time.Hour)
	assert.False(t, pack.NumericPrecisionAllowed())
}

func TestBuilder_NumericPrecisionAllowedFalseWhenAnyExpired(t *testing.T) {
	b := NewBuilder(true)
	b.Add("AAPL.price", 100, "finnhub", time.Now().Add(-time.Hour), 0.9, "")
	pack := b.Seal(time.Minute)
	assert.False(t, pack.NumericPrecisionAllowed())
	assert.True(t, pack.Tokens()[0].Expired)
}

func TestBuilder_ActionRecommendationsDisabledOnProviderFailure(t *testing.T) {
	b := NewBuilder(true)
	b.Add("AAPL.price", 100, "finnhub", time.Now(), 0.9, "")
	b.MarkProviderFailure()
	pack := b.Seal(time.Hour)
	assert.False(t, pack.ActionRecommendationsAllowed())
}

func TestBuilder_ActionRecommendationsRequireExternalTruthMode(t *testing.T) {
	b := NewBuilder(false)
	b.Add("AAPL.price", 100, "finnhub", time.Now(), 0.9, "")
	pack := b.Seal(time.Hour)
	assert.False(t, pack.ActionRecommendationsAllowed())
}

func TestPack_NarrativesSeparateFromTokens(t *testing.T) {
	b := NewBuilder(true)
	b.Add("AAPL.price", 190.0, "finnhub", time.Now(), 0.9, "AAPL trades at $190.00 (finnhub)")
	pack := b.Seal(time.Hour)
	require.Len(t, pack.Narratives(), 1)
	assert.Contains(t, pack.Narratives()[0], "$190.00")
	assert.Equal(t, 190.0, pack.Tokens()[0].Value)
}

func TestPack_TokensAndNarrativesAreDefensiveCopies(t *testing.T) {
	b := NewBuilder(true)
	b.Add("AAPL.price", 190.0, "finnhub", time.Now(), 0.9, "")
	pack := b.Seal(time.Hour)

	tokens := pack.Tokens()
	tokens[0].Value = 999

	assert.Equal(t, 190.0, pack.Tokens()[0].Value, "mutating a returned slice must not affect the sealed pack")
}
