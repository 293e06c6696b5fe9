// Package lens classifies an incoming user message into a truth mode and
// data category, deciding whether the request needs live external data
// at all. A rule-based pass runs first; only when it can't reach a
// confident verdict does classification defer to an LLM fallback.
package lens

import (
	"context"
	"strings"

	"github.com/novaos/lensgate/internal/entity"
)

// TruthMode says how much of the answer should come from outside the
// model's own knowledge.
type TruthMode string

const (
	TruthLocal    TruthMode = "local"
	TruthHybrid   TruthMode = "hybrid"
	TruthExternal TruthMode = "external"
)

// Confidence is the classifier's self-reported certainty in its
// verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Method records which pass produced the final verdict.
type Method string

const (
	MethodRuleBased Method = "rule_based"
	MethodLLM       Method = "llm"
	MethodHybrid    Method = "hybrid"
)

// DataType is the shape of external data the request would need.
type DataType string

const (
	DataRealtime   DataType = "realtime"
	DataWebSearch  DataType = "web_search"
	DataNone       DataType = "none"
)

// Classification is the lens's verdict for one message.
type Classification struct {
	TruthMode              TruthMode
	PrimaryCategory        string
	Categories             []string
	ClassificationConfidence Confidence
	ClassificationMethod   Method
	NeedsExternalData      bool
	DataType               DataType
}

// greetingPhrases and opinionPhrases short-circuit to local/no-external-
// data regardless of any entity mentions, since a greeting that happens
// to contain a company name ("hi, I like Apple products") still isn't a
// data request.
var greetingPhrases = []string{"hello", "hi", "hey", "good morning", "good afternoon", "thanks", "thank you"}
var opinionPhrases = []string{"what do you think", "do you like", "your opinion", "favorite", "should i"}
var creativePhrases = []string{"write a poem", "write a story", "make up", "imagine", "pretend"}

// LLMFallback is the subset of internal/llmsec's client the classifier
// needs for its fallback path, kept narrow so lens doesn't import the
// whole pipeline.
type LLMFallback interface {
	ClassifyLowConfidence(ctx context.Context, message string) (Classification, error)
}

// Classifier runs the rule-based pass and, only on low confidence,
// defers to an LLMFallback.
type Classifier struct {
	fallback LLMFallback
}

// NewClassifier builds a Classifier. fallback may be nil, in which case
// low-confidence messages simply keep the rule-based (low-confidence)
// verdict rather than escalating.
func NewClassifier(fallback LLMFallback) *Classifier {
	return &Classifier{fallback: fallback}
}

// Classify returns the final classification for message, running the
// LLM fallback when the rule pass alone can't reach at least medium
// confidence.
func (c *Classifier) Classify(ctx context.Context, message string) Classification {
	verdict := classifyByRules(message)
	if verdict.ClassificationConfidence != ConfidenceLow || c.fallback == nil {
		return verdict
	}

	llmVerdict, err := c.fallback.ClassifyLowConfidence(ctx, message)
	if err != nil {
		return verdict
	}
	llmVerdict.ClassificationMethod = MethodHybrid
	return llmVerdict
}

func classifyByRules(message string) Classification {
	lower := strings.ToLower(message)

	if containsAny(lower, greetingPhrases) || containsAny(lower, opinionPhrases) || containsAny(lower, creativePhrases) {
		return Classification{
			TruthMode: TruthLocal, ClassificationConfidence: ConfidenceHigh,
			ClassificationMethod: MethodRuleBased, NeedsExternalData: false, DataType: DataNone,
		}
	}

	ents := entity.Extract(message)
	if len(ents) == 0 {
		if hasRealtimeKeyword(lower) {
			return Classification{
				TruthMode: TruthExternal, PrimaryCategory: "web_search",
				Categories: []string{"web_search"}, ClassificationConfidence: ConfidenceLow,
				ClassificationMethod: MethodRuleBased, NeedsExternalData: true, DataType: DataWebSearch,
			}
		}
		return Classification{
			TruthMode: TruthLocal, ClassificationConfidence: ConfidenceHigh,
			ClassificationMethod: MethodRuleBased, NeedsExternalData: false, DataType: DataNone,
		}
	}

	categories := make([]string, 0, len(ents))
	seen := make(map[string]bool)
	for _, e := range ents {
		cat := string(e.Category)
		if !seen[cat] {
			seen[cat] = true
			categories = append(categories, cat)
		}
	}

	confidence := ConfidenceHigh
	if len(categories) > 1 {
		confidence = ConfidenceMedium
	}

	return Classification{
		TruthMode: TruthExternal, PrimaryCategory: categories[0], Categories: categories,
		ClassificationConfidence: confidence, ClassificationMethod: MethodRuleBased,
		NeedsExternalData: true, DataType: DataRealtime,
	}
}

var realtimeKeywords = []string{"current", "latest", "today", "right now", "live", "breaking"}

func hasRealtimeKeyword(lower string) bool {
	return containsAny(lower, realtimeKeywords)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
