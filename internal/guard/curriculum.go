// Package guard runs two independent, network-free checks over model
// output: CheckCurriculum detects fabricated resource references, and
// CheckNumericLeak detects numeric literals not backed by an evidence
// pack. Both are pure functions over already-fetched data.
package guard

import (
	"strconv"
	"strings"
)

// Severity mirrors the classifications other components use for audit
// events.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityLow      Severity = "low"
)

// FindingType names the kind of fabrication detected.
type FindingType string

const (
	FindingFabricatedIndex FindingType = "fabricated_index"
	FindingFabricatedURL   FindingType = "fabricated_url"
	FindingSuspiciousClaim FindingType = "suspicious_claim"
)

// Finding is a single detected issue.
type Finding struct {
	Type     FindingType
	Severity Severity
	Detail   string
}

// CurriculumVerdict aggregates every finding from one CheckCurriculum
// call.
type CurriculumVerdict struct {
	Findings       []Finding
	HasHallucinations bool
	HasCritical    bool
	CountByType    map[FindingType]int
	CountBySeverity map[Severity]int
}

// CheckCurriculum scans content for references to verified resources by
// 1-based index (e.g. "[3]", "resource #3", "item 3") and for URLs,
// flagging any index outside [1, len(verifiedResources)] and any URL
// whose canonical form isn't in verifiedResources. It also flags
// citation-shaped strings with no matching verified source as a
// low-severity suspicious claim.
func CheckCurriculum(content string, verifiedResources []string) CurriculumVerdict {
	n := len(verifiedResources)
	verifiedURLs := make(map[string]bool, n)
	for _, r := range verifiedResources {
		verifiedURLs[canonicalizeURL(r)] = true
	}

	var findings []Finding

	for _, idx := range extractReferencedIndices(content) {
		if idx < 1 || idx > n {
			findings = append(findings, Finding{
				Type: FindingFabricatedIndex, Severity: SeverityCritical,
				Detail: "index " + strconv.Itoa(idx) + " out of range [1," + strconv.Itoa(n) + "]",
			})
		}
	}

	for _, url := range extractURLs(content) {
		if !verifiedURLs[canonicalizeURL(url)] {
			findings = append(findings, Finding{Type: FindingFabricatedURL, Severity: SeverityCritical, Detail: url})
		}
	}

	for _, claim := range extractSuspiciousClaims(content) {
		findings = append(findings, Finding{Type: FindingSuspiciousClaim, Severity: SeverityLow, Detail: claim})
	}

	return aggregate(findings)
}

func aggregate(findings []Finding) CurriculumVerdict {
	v := CurriculumVerdict{
		Findings:        findings,
		CountByType:     make(map[FindingType]int),
		CountBySeverity: make(map[Severity]int),
	}
	for _, f := range findings {
		v.HasHallucinations = true
		if f.Severity == SeverityCritical {
			v.HasCritical = true
		}
		v.CountByType[f.Type]++
		v.CountBySeverity[f.Severity]++
	}
	return v
}

// extractReferencedIndices finds bracketed numeric references like
// "[3]" and phrase references like "resource #3" or "item 3".
func extractReferencedIndices(content string) []int {
	var out []int
	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '[' {
			j := i + 1
			for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
				j++
			}
			if j > i+1 && j < len(runes) && runes[j] == ']' {
				if n, err := strconv.Atoi(string(runes[i+1 : j])); err == nil {
					out = append(out, n)
				}
				i = j
			}
		}
	}

	lower := strings.ToLower(content)
	for _, marker := range []string{"resource #", "item #", "resource ", "item "} {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], marker)
			if pos < 0 {
				break
			}
			start := idx + pos + len(marker)
			end := start
			for end < len(lower) && lower[end] >= '0' && lower[end] <= '9' {
				end++
			}
			if end > start {
				if n, err := strconv.Atoi(lower[start:end]); err == nil {
					out = append(out, n)
				}
			}
			idx = start
			if idx >= len(lower) {
				break
			}
		}
	}
	return out
}

// extractURLs does a simple char scan for http(s):// prefixed spans, no
// backtracking regex involved.
func extractURLs(content string) []string {
	var out []string
	lower := strings.ToLower(content)
	for _, scheme := range []string{"https://", "http://"} {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], scheme)
			if pos < 0 {
				break
			}
			start := idx + pos
			end := start
			for end < len(content) && !isURLBoundary(rune(content[end])) {
				end++
			}
			out = append(out, content[start:end])
			idx = end
			if idx >= len(content) {
				break
			}
		}
	}
	return out
}

func isURLBoundary(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', ')', ']', '}', '"', '\'', ',':
		return true
	default:
		return false
	}
}

// canonicalizeURL trims surrounding spaces, strips one trailing slash and
// lower-cases the whole URL (path included), so trivially-different
// spellings of the same verified resource still match.
func canonicalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "/")
	return strings.ToLower(s)
}

// citationMarkers flags phrasing that claims statistical backing
// without naming a verifiable source.
var citationMarkers = []string{"studies show", "research indicates", "according to experts", "statistics show", "it is proven that"}

func extractSuspiciousClaims(content string) []string {
	lower := strings.ToLower(content)
	var out []string
	for _, marker := range citationMarkers {
		if strings.Contains(lower, marker) {
			out = append(out, marker)
		}
	}
	return out
}
