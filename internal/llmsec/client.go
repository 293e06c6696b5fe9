// Package llmsec wraps outbound calls to a language model behind a
// fixed security pipeline: sanitize, budget/truncate, deadline-bound
// dispatch through a circuit breaker, schema validation, hallucination
// checking, and audit emission. The vendor wire protocol never leaks
// past the Provider interface.
package llmsec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/novaos/lensgate/internal/audit"
	"github.com/novaos/lensgate/internal/guard"
	"github.com/novaos/lensgate/internal/sanitize"
)

// Purpose parameterizes per-call limits and behavior.
type Purpose string

const (
	PurposeCurriculumStructuring Purpose = "curriculum_structuring"
	PurposeGoalRefinement        Purpose = "goal_refinement"
	PurposeStepGeneration        Purpose = "step_generation"
	PurposeSparkCreation         Purpose = "spark_creation"
	PurposeContentSummary        Purpose = "content_summary"
	PurposeDifficultyAssessment  Purpose = "difficulty_assessment"
	PurposeTest                  Purpose = "test"
)

// PurposeLimits is the per-purpose budget and deadline.
type PurposeLimits struct {
	MaxTokensInput  int
	MaxTokensOutput int
	TimeoutMs       int64
	Priority        int
}

var defaultLimits = map[Purpose]PurposeLimits{
	PurposeCurriculumStructuring: {MaxTokensInput: 4000, MaxTokensOutput: 2000, TimeoutMs: 20_000, Priority: 1},
	PurposeGoalRefinement:        {MaxTokensInput: 2000, MaxTokensOutput: 800, TimeoutMs: 12_000, Priority: 2},
	PurposeStepGeneration:        {MaxTokensInput: 3000, MaxTokensOutput: 1500, TimeoutMs: 15_000, Priority: 2},
	PurposeSparkCreation:         {MaxTokensInput: 1500, MaxTokensOutput: 500, TimeoutMs: 10_000, Priority: 3},
	PurposeContentSummary:        {MaxTokensInput: 6000, MaxTokensOutput: 1000, TimeoutMs: 15_000, Priority: 2},
	PurposeDifficultyAssessment:  {MaxTokensInput: 1500, MaxTokensOutput: 300, TimeoutMs: 8_000, Priority: 3},
	PurposeTest:                  {MaxTokensInput: 500, MaxTokensOutput: 200, TimeoutMs: 5_000, Priority: 5},
}

// Message is one turn in the prompt; role "system" messages are trimmed
// last when truncating to budget.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// SchemaKind describes how Response.Content should be interpreted.
type SchemaKind string

const (
	SchemaText SchemaKind = "text"
	SchemaJSON SchemaKind = "json"
)

// Request is one call into the security client.
type Request struct {
	Purpose           Purpose
	SystemPrompt      string
	UserPrompt        string
	History           []Message
	ExpectedSchema    SchemaKind
	VerifiedResources []string // for curriculum hallucination checks: canonical URLs/resource ids
}

// Response is the validated, post-pipeline result handed back to the
// caller.
type Response struct {
	Content           string
	FinishReason      string
	TokensUsed        int
	Retries           int
	SchemaValid       bool
	HallucinationFree bool
	FromCache         bool
}

// Provider is the vendor adapter boundary; no wire-protocol detail
// crosses it into the rest of this package.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

var (
	// ErrSanitizationBlocked is returned when the sanitizer flags the
	// prompt for blocking before any vendor call is made.
	ErrSanitizationBlocked = errors.New("llmsec: sanitization blocked request")
	// ErrTimeout is returned when the dispatch deadline elapses.
	ErrTimeout = errors.New("llmsec: provider call timed out")
	// ErrCircuitOpen is returned when the breaker is open.
	ErrCircuitOpen = errors.New("llmsec: circuit breaker open")
)

// breaker is the small interface the Client needs from a circuit
// breaker, satisfied by provider.circuitBreaker's shape but kept local
// so llmsec doesn't import the provider package for an unrelated
// concern.
type breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// Client is the stateless-per-request security pipeline around a
// Provider. The only state it carries across requests is the circuit
// breaker and the optional response cache.
type Client struct {
	provider  Provider
	sanitizer *sanitize.Sanitizer
	breaker   breaker
	auditLog  audit.Store
	cache     *redis.Client
	limits    map[Purpose]PurposeLimits
}

// NewClient builds a Client. cache may be nil to disable response
// caching.
func NewClient(p Provider, auditLog audit.Store, cache *redis.Client) *Client {
	return &Client{
		provider:  p,
		sanitizer: sanitize.NewSanitizer(nil),
		breaker:   newLocalBreaker(5, 30*time.Second),
		auditLog:  auditLog,
		cache:     cache,
		limits:    defaultLimits,
	}
}

// Complete runs the full pipeline for req.
func (c *Client) Complete(ctx context.Context, correlationID string, req Request) (Response, error) {
	limits, ok := c.limits[req.Purpose]
	if !ok {
		limits = defaultLimits[PurposeTest]
	}

	sysResult := c.sanitizer.Sanitize(req.SystemPrompt)
	userResult := c.sanitizer.Sanitize(req.UserPrompt)
	if sysResult.ShouldBlock || userResult.ShouldBlock {
		c.emitSecurityBlock(ctx, correlationID, req, mergedPatterns(sysResult, userResult))
		return Response{}, ErrSanitizationBlocked
	}

	budgeted := truncateToBudget(req.SystemPrompt, userResult.Normalized, req.History, limits.MaxTokensInput)

	if c.cache != nil {
		if cached, ok := c.lookupCache(ctx, req.Purpose, sysResult.Normalized, budgeted.userPrompt); ok {
			return cached, nil
		}
	}

	if !c.breaker.Allow() {
		return Response{}, ErrCircuitOpen
	}

	dispatchReq := req
	dispatchReq.SystemPrompt = sysResult.Normalized
	dispatchReq.UserPrompt = budgeted.userPrompt
	dispatchReq.History = budgeted.history

	resp, err := c.dispatch(ctx, limits, dispatchReq)
	if err != nil {
		c.breaker.RecordFailure()
		c.emitAudit(ctx, correlationID, req, nil, false, nil)
		return Response{}, err
	}
	c.breaker.RecordSuccess()

	resp.SchemaValid = validateSchema(req.ExpectedSchema, resp.Content)

	hallucinationFree := true
	if req.Purpose == PurposeCurriculumStructuring && len(req.VerifiedResources) > 0 {
		verdict := guard.CheckCurriculum(resp.Content, req.VerifiedResources)
		hallucinationFree = !verdict.HasCritical
	}
	resp.HallucinationFree = hallucinationFree

	if c.cache != nil {
		c.writeCache(ctx, req.Purpose, sysResult.Normalized, budgeted.userPrompt, resp)
	}

	c.emitAudit(ctx, correlationID, req, &resp, true, mergedPatterns(sysResult, userResult))
	return resp, nil
}

// dispatch issues the vendor call under a deadline shared between the
// context and an accompanying timer: whichever fires first wins, and
// the timer path always reports ErrTimeout so callers see one
// consistent timeout error regardless of which mechanism triggered it.
func (c *Client) dispatch(ctx context.Context, limits PurposeLimits, req Request) (Response, error) {
	deadline := time.Duration(limits.TimeoutMs) * time.Millisecond
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.provider.Complete(dctx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return Response{}, ErrTimeout
		}
		return r.resp, r.err
	case <-dctx.Done():
		return Response{}, ErrTimeout
	}
}

func mergedPatterns(results ...sanitize.SanitizationResult) []sanitize.PatternMatch {
	var out []sanitize.PatternMatch
	for _, r := range results {
		out = append(out, r.Patterns...)
	}
	return out
}

func validateSchema(kind SchemaKind, content string) bool {
	if kind != SchemaJSON {
		return true
	}
	var js json.RawMessage
	return json.Unmarshal([]byte(content), &js) == nil
}

func cacheKey(purpose Purpose, systemPrompt, userPrompt string) string {
	h := sha256.Sum256([]byte(string(purpose) + "|" + systemPrompt + "|" + userPrompt))
	return "llmsec:cache:" + hex.EncodeToString(h[:])
}

func (c *Client) lookupCache(ctx context.Context, purpose Purpose, systemPrompt, userPrompt string) (Response, bool) {
	raw, err := c.cache.Get(ctx, cacheKey(purpose, systemPrompt, userPrompt)).Bytes()
	if err != nil {
		return Response{}, false
	}
	var resp Response
	if json.Unmarshal(raw, &resp) != nil {
		return Response{}, false
	}
	resp.FromCache = true
	return resp, true
}

func (c *Client) writeCache(ctx context.Context, purpose Purpose, systemPrompt, userPrompt string, resp Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.cache.Set(ctx, cacheKey(purpose, systemPrompt, userPrompt), raw, 10*time.Minute)
}

func (c *Client) emitAudit(ctx context.Context, correlationID string, req Request, resp *Response, success bool, patterns []sanitize.PatternMatch) {
	if c.auditLog == nil {
		return
	}
	tokensUsed := 0
	retries := 0
	finishReason := ""
	schemaValid := false
	hallucinationVerdict := "skipped"
	if resp != nil {
		tokensUsed = resp.TokensUsed
		retries = resp.Retries
		finishReason = resp.FinishReason
		schemaValid = resp.SchemaValid
		if resp.HallucinationFree {
			hallucinationVerdict = "pass"
		} else {
			hallucinationVerdict = "violation"
		}
	}

	_, _ = c.auditLog.Append(ctx, audit.Entry{
		Category:    "llm_audit",
		Action:      fmt.Sprintf("llm_complete:%s", req.Purpose),
		Success:     success,
		Severity:    audit.SeverityLow,
		Data: map[string]any{
			"correlationId":      correlationID,
			"purpose":            req.Purpose,
			"patternsDetected":   len(patterns),
			"modified":           len(patterns) > 0,
			"tokensUsed":         tokensUsed,
			"retries":            retries,
			"finishReason":       finishReason,
			"schemaValid":        schemaValid,
			"hallucinationCheck": hallucinationVerdict,
		},
	})
}

// emitSecurityBlock records a sanitizer rejection under the security
// taxonomy rather than the llm_audit one, since a blocked request never
// reaches the vendor call the llm_audit fields describe.
func (c *Client) emitSecurityBlock(ctx context.Context, correlationID string, req Request, patterns []sanitize.PatternMatch) {
	if c.auditLog == nil {
		return
	}
	_, _ = c.auditLog.Append(ctx, audit.Entry{
		Category: "security",
		Action:   "security.blocked",
		Success:  false,
		Severity: audit.SeverityWarning,
		Data: map[string]any{
			"correlationId":    correlationID,
			"purpose":          req.Purpose,
			"patternsDetected": len(patterns),
		},
	})
}
