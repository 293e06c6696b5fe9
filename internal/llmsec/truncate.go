package llmsec

import "strings"

// estimateTokens approximates token count as ceil(len/4) with a 10%
// safety margin, cheap enough to run on every request without a real
// tokenizer dependency.
func estimateTokens(s string) int {
	chars := len([]rune(s))
	base := (chars + 3) / 4
	return base + base/10
}

type budgetedPrompt struct {
	userPrompt string
	history    []Message
}

// truncateToBudget fits systemPrompt + userPrompt + history under
// maxTokens. System content is never trimmed; older non-system history
// messages are dropped first (oldest first), then the user prompt
// itself is smart-truncated as a last resort.
func truncateToBudget(systemPrompt, userPrompt string, history []Message, maxTokens int) budgetedPrompt {
	systemTokens := estimateTokens(systemPrompt)
	remaining := maxTokens - systemTokens
	if remaining < 0 {
		remaining = 0
	}

	kept := append([]Message(nil), history...)
	userTokens := estimateTokens(userPrompt)

	for remaining < userTokens+sumTokens(kept) && len(kept) > 0 {
		drop := 0
		for drop < len(kept) && kept[drop].Role == "system" {
			drop++
		}
		if drop == len(kept) {
			drop = 0
		}
		kept = append(kept[:drop], kept[drop+1:]...)
	}

	total := remaining - sumTokens(kept)
	if userTokens > total {
		userPrompt = smartTruncate(userPrompt, total)
	}

	return budgetedPrompt{userPrompt: userPrompt, history: kept}
}

func sumTokens(msgs []Message) int {
	sum := 0
	for _, m := range msgs {
		sum += estimateTokens(m.Content)
	}
	return sum
}

const truncationSuffix = " [truncated]"

// smartTruncate trims text to fit within maxTokens (approximated as
// maxTokens*4 characters), preferring to cut at a paragraph boundary,
// then a sentence boundary, then a word boundary, and only falling back
// to a hard character cut when none of those leave enough content.
func smartTruncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return truncationSuffix
	}
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	budget := maxChars - len(truncationSuffix)
	if budget <= 0 {
		return truncationSuffix
	}

	if cut := lastIndexWithin(text, "\n\n", budget); cut > budget/2 {
		return text[:cut] + truncationSuffix
	}
	if cut := lastSentenceBoundary(text, budget); cut > budget/2 {
		return text[:cut] + truncationSuffix
	}
	if cut := strings.LastIndexByte(text[:budget], ' '); cut > 0 {
		return text[:cut] + truncationSuffix
	}
	return text[:budget] + truncationSuffix
}

func lastIndexWithin(s, sep string, limit int) int {
	if limit > len(s) {
		limit = len(s)
	}
	return strings.LastIndex(s[:limit], sep)
}

func lastSentenceBoundary(s string, limit int) int {
	if limit > len(s) {
		limit = len(s)
	}
	window := s[:limit]
	best := -1
	for _, end := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, end); idx > best {
			best = idx + 1
		}
	}
	return best
}
