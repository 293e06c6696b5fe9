// Package evidence builds bounded, content-addressed, immutable
// EvidencePacks from classifier output and successful provider fetches,
// giving downstream LLM calls a fixed, auditable set of numeric facts
// they're allowed to cite.
package evidence

import (
	"fmt"
	"sort"
	"time"
)

const maxPackSize = 50

// Token is one numeric fact the pack makes available for citation.
type Token struct {
	ContextKey string // e.g. "AAPL.price", "USD/EUR.rate", "NYC.temperature_c"
	Value      float64
	Source     string
	FetchedAt  time.Time
	Confidence float64
	Expired    bool
}

// Pack is the sealed, immutable result of a Builder run. Its fields are
// unexported; callers only ever see it through Tokens(), Narratives(),
// and the two derived flags, so nothing can mutate a pack after Seal.
type Pack struct {
	tokens                       []Token
	narratives                   []string
	numericPrecisionAllowed      bool
	actionRecommendationsAllowed bool
	sealed                       bool
}

func (p *Pack) Tokens() []Token      { return append([]Token(nil), p.tokens...) }
func (p *Pack) Narratives() []string { return append([]string(nil), p.narratives...) }
func (p *Pack) NumericPrecisionAllowed() bool      { return p.numericPrecisionAllowed }
func (p *Pack) ActionRecommendationsAllowed() bool { return p.actionRecommendationsAllowed }

// candidate is a pre-seal token plus its caller-supplied narrative
// string, carried alongside so dedup/cap operate on the pair together.
type candidate struct {
	Token
	narrative string
}

// Builder accumulates candidate facts, then Seal()s them into an
// immutable Pack following a fixed five-step algorithm: assign context
// keys (done by the caller via Add), dedupe by (contextKey, source)
// keeping the latest fetchedAt, cap at maxPackSize dropping
// lowest-confidence first, derive the two allow-flags, and emit
// narrative strings separate from the numeric tokens themselves.
type Builder struct {
	candidates        []candidate
	truthModeExternal bool
	anyProviderFailed bool
}

// NewBuilder starts a Builder for one request. truthModeExternal should
// be the classifier's verdict for this message; anyProviderFailed
// tracks whether any fetch the caller attempted came back with an
// error (even if other fetches for other entities succeeded).
func NewBuilder(truthModeExternal bool) *Builder {
	return &Builder{truthModeExternal: truthModeExternal}
}

// MarkProviderFailure records that at least one attempted fetch failed,
// which disables actionRecommendationsAllowed on the resulting pack
// even if other fetches succeeded.
func (b *Builder) MarkProviderFailure() { b.anyProviderFailed = true }

// Add assigns contextKey to a fetched value and queues it as a
// candidate token. narrative is the human-readable summary string
// emitted alongside (not instead of) the numeric token in the sealed
// pack; pass "" to have Seal derive one automatically.
func (b *Builder) Add(contextKey string, value float64, source string, fetchedAt time.Time, confidence float64, narrative string) {
	b.candidates = append(b.candidates, candidate{
		Token:     Token{ContextKey: contextKey, Value: value, Source: source, FetchedAt: fetchedAt, Confidence: confidence},
		narrative: narrative,
	})
}

// Seal runs the five-step algorithm and returns the immutable Pack.
// Calling Seal twice is safe; the second call just rebuilds the same
// result from the same candidate set.
func (b *Builder) Seal(maxAgeForFresh time.Duration) *Pack {
	deduped := dedupeFreshest(b.candidates)
	capped := capByConfidence(deduped, maxPackSize)

	tokens := make([]Token, 0, len(capped))
	narratives := make([]string, 0, len(capped))
	noneExpired := true
	now := time.Now()

	for _, c := range capped {
		expired := maxAgeForFresh > 0 && now.Sub(c.FetchedAt) > maxAgeForFresh
		c.Token.Expired = expired
		if expired {
			noneExpired = false
		}
		tokens = append(tokens, c.Token)
		if c.narrative != "" {
			narratives = append(narratives, c.narrative)
		} else {
			narratives = append(narratives, formatNarrative(c.Token))
		}
	}

	return &Pack{
		tokens:                       tokens,
		narratives:                   narratives,
		numericPrecisionAllowed:      len(tokens) > 0 && noneExpired,
		actionRecommendationsAllowed: b.truthModeExternal && !b.anyProviderFailed,
		sealed:                       true,
	}
}

// dedupeFreshest keeps, for each (contextKey, source) pair, only the
// candidate with the latest FetchedAt.
func dedupeFreshest(candidates []candidate) []candidate {
	type key struct {
		contextKey string
		source     string
	}
	best := make(map[key]candidate)
	for _, c := range candidates {
		k := key{c.ContextKey, c.Source}
		if existing, ok := best[k]; !ok || c.FetchedAt.After(existing.FetchedAt) {
			best[k] = c
		}
	}
	out := make([]candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextKey < out[j].ContextKey })
	return out
}

// capByConfidence enforces the pack size ceiling, dropping the
// lowest-confidence entries first when over the cap.
func capByConfidence(candidates []candidate, cap int) []candidate {
	if len(candidates) <= cap {
		return candidates
	}
	sorted := append([]candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	return sorted[:cap]
}

func formatNarrative(t Token) string {
	age := time.Since(t.FetchedAt).Round(time.Second)
	status := ""
	if t.Expired {
		status = " (stale)"
	}
	return fmt.Sprintf("%s: %.4f (source: %s, %s ago%s)", t.ContextKey, t.Value, t.Source, age, status)
}
