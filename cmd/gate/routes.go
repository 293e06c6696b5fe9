package main

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/novaos/lensgate/internal/audit"
	"github.com/novaos/lensgate/internal/authz"
	"github.com/novaos/lensgate/internal/entity"
	"github.com/novaos/lensgate/internal/evidence"
	"github.com/novaos/lensgate/internal/gatehttp"
	"github.com/novaos/lensgate/internal/guard"
	"github.com/novaos/lensgate/internal/lens"
	"github.com/novaos/lensgate/internal/llmsec"
	"github.com/novaos/lensgate/internal/provider"
	"github.com/novaos/lensgate/internal/ratelimit"
)

// registerRoutes mounts the gate's authenticated business routes behind
// authMW, in addition to the unauthenticated health routes already
// registered by the telemetry.HealthAggregator.
func registerRoutes(e *echo.Echo, authMW *authz.Middleware, deps gateDeps) {
	v1 := e.Group("/v1", authMW.Authenticate())
	v1.POST("/lens/query", lensQueryHandler(deps))
	v1.POST("/llm/complete", llmCompleteHandler(deps))
	v1.GET("/audit", auditQueryHandler(deps), authMW.RequireRole("auditor"))
}

type lensQueryRequest struct {
	Message string `json:"message"`
}

type lensQueryResponse struct {
	Classification lens.Classification `json:"classification"`
	Entities       []entity.Entity     `json:"entities"`
	Tokens         []evidence.Token    `json:"tokens"`
	Narratives     []string            `json:"narratives"`
	NumericVerdict string               `json:"numericVerdict,omitempty"`
}

// lensQueryHandler runs the full pipeline: classify, extract and
// validate entities, fetch live data for anything the classifier says
// needs it, seal an evidence pack, and audit the outcome. When the
// request produced an evidence pack that's eligible for external truth,
// it also runs the sealed tokens past the llm security client and the
// numeric-leak guard before responding.
func lensQueryHandler(deps gateDeps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req lensQueryRequest
		if err := c.Bind(&req); err != nil || req.Message == "" {
			return gatehttp.Fail(c, http.StatusBadRequest, "message is required")
		}

		principal, _ := authz.PrincipalFromContext(c.Request().Context())
		ctx := c.Request().Context()

		classification := deps.classifier.Classify(ctx, req.Message)
		entities := entity.Extract(req.Message)

		builder := evidence.NewBuilder(classification.TruthMode == lens.TruthExternal)

		if classification.NeedsExternalData && len(entities) > 0 {
			decision, err := deps.tierGate.TryAcquire(ctx, principal.UserID, ratelimit.Tier(tierOrDefault(principal.Tier)))
			if err != nil {
				deps.logger.Error("tier gate check failed", zap.Error(err))
			} else {
				gatehttp.SetRateLimitHeaders(c, decision)
				if !decision.Allowed {
					return gatehttp.RespondRateLimited(c, decision)
				}
			}

			for _, ent := range entities {
				result := deps.validator.Validate(ctx, principal.UserID, ent)
				switch result.Status {
				case entity.StatusValid, entity.StatusSkipped:
					if value, ok := numericValue(ent.Category, result.ProviderData); ok {
						source := result.Provider
						if source == "" {
							source = "cache"
						}
						builder.Add(contextKeyFor(ent), value, source, time.Now(), ent.Confidence, "")
					}
				case entity.StatusInvalid, entity.StatusUnknown:
					builder.MarkProviderFailure()
				}
			}
		}

		pack := builder.Seal(5 * time.Minute)

		resp := lensQueryResponse{
			Classification: classification,
			Entities:       entities,
			Tokens:         pack.Tokens(),
			Narratives:     pack.Narratives(),
		}

		if pack.NumericPrecisionAllowed() && len(pack.Tokens()) > 0 {
			llmResp, err := deps.llmClient.Complete(ctx, c.Response().Header().Get(echo.HeaderXRequestID), llmsec.Request{
				Purpose:        llmsec.PurposeContentSummary,
				UserPrompt:     req.Message,
				ExpectedSchema: llmsec.SchemaText,
			})
			if err == nil {
				guardTokens := make([]guard.EvidenceToken, len(pack.Tokens()))
				for i, t := range pack.Tokens() {
					guardTokens[i] = guard.EvidenceToken{ContextKey: t.ContextKey, Value: t.Value}
				}
				verdict, _ := guard.CheckNumericLeak(llmResp.Content, guardTokens)
				resp.NumericVerdict = string(verdict)
				if verdict == guard.NumericViolation {
					_, _ = deps.auditStore.Append(ctx, audit.Entry{
						UserID:   principal.UserID,
						Category: "llm_security",
						Action:   "numeric_leak_detected",
						Severity: audit.SeverityHigh,
						Success:  false,
						Data:     map[string]any{"message": req.Message},
					})
				}
			}
		}

		_, _ = deps.auditStore.Append(ctx, audit.Entry{
			UserID:   principal.UserID,
			Category: "lens_query",
			Action:   "query_resolved",
			Severity: audit.SeverityLow,
			Success:  true,
			Data:     map[string]any{"primaryCategory": classification.PrimaryCategory, "entityCount": len(entities)},
		})

		return c.JSON(http.StatusOK, resp)
	}
}

type llmCompleteRequest struct {
	Purpose      string            `json:"purpose"`
	SystemPrompt string            `json:"systemPrompt"`
	UserPrompt   string            `json:"userPrompt"`
	History      []llmsec.Message  `json:"history"`
}

// llmCompleteHandler exposes the security-wrapped LLM pipeline directly,
// for callers that already have their own evidence and just need
// sanitize/budget/breaker/schema protection around a vendor call. A
// missing userPrompt or a prompt the sanitizer blocks gets 400; with no
// vendor provider configured every other request gets 503, after
// exercising every pipeline stage up to the vendor boundary.
func llmCompleteHandler(deps gateDeps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req llmCompleteRequest
		if err := c.Bind(&req); err != nil || req.UserPrompt == "" {
			return gatehttp.Fail(c, http.StatusBadRequest, "userPrompt is required")
		}

		resp, err := deps.llmClient.Complete(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID), llmsec.Request{
			Purpose:      llmsec.Purpose(req.Purpose),
			SystemPrompt: req.SystemPrompt,
			UserPrompt:   req.UserPrompt,
			History:      req.History,
		})
		if err != nil {
			switch err {
			case llmsec.ErrSanitizationBlocked:
				return gatehttp.Fail(c, http.StatusBadRequest, "request blocked by prompt sanitizer")
			case llmsec.ErrCircuitOpen, llmsec.ErrTimeout:
				return gatehttp.Fail(c, http.StatusServiceUnavailable, "llm provider unavailable")
			default:
				return gatehttp.Fail(c, http.StatusServiceUnavailable, "llm provider not configured")
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

type auditQueryResponse struct {
	Entries []audit.Entry `json:"entries"`
}

// auditQueryHandler lets an auditor-role principal read up to 50 entries
// of the hash-chained log, filtered by the userId and category query
// parameters only (no raw SQL/Mongo filter passthrough). There is no
// offset or paging parameter.
func auditQueryHandler(deps gateDeps) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := audit.Query{
			UserID:   c.QueryParam("userId"),
			Category: c.QueryParam("category"),
			Limit:    50,
		}
		entries, err := deps.auditStore.Query(c.Request().Context(), q)
		if err != nil {
			return gatehttp.Fail(c, http.StatusInternalServerError, "query failed")
		}
		return c.JSON(http.StatusOK, auditQueryResponse{Entries: entries})
	}
}

func tierOrDefault(tier string) string {
	if tier == "" {
		return string(ratelimit.TierFree)
	}
	return tier
}

func contextKeyFor(e entity.Entity) string {
	switch e.Category {
	case provider.CategoryWeather:
		return e.CanonicalID + ".temperature_c"
	case provider.CategoryExchangeRate:
		return e.CanonicalID + ".rate"
	default:
		return e.CanonicalID + ".price"
	}
}

// numericValue extracts the headline numeric fact from a fetch result.
// A fresh fetch carries a typed struct; a cache hit round-trips through
// JSON and comes back as a generic map, so both shapes are handled.
func numericValue(cat provider.Category, data any) (float64, bool) {
	switch v := data.(type) {
	case provider.StockQuote:
		return v.Price, true
	case provider.WeatherReading:
		return v.TemperatureC, true
	case provider.ExchangeRateReading:
		return v.Rate, true
	case map[string]any:
		key := map[provider.Category]string{
			provider.CategoryStockQuote:   "price",
			provider.CategoryWeather:      "temperatureC",
			provider.CategoryExchangeRate: "rate",
		}[cat]
		f, ok := v[key].(float64)
		return f, ok && key != ""
	default:
		return 0, false
	}
}
