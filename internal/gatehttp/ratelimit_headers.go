package gatehttp

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/novaos/lensgate/internal/ratelimit"
)

// SetRateLimitHeaders annotates the response with the standard
// X-RateLimit-* triplet plus Retry-After when the decision denied the
// request, so a client backs off for the right amount of time instead
// of guessing.
func SetRateLimitHeaders(c echo.Context, d ratelimit.Decision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	remaining := d.Limit - d.Current
	if remaining < 0 {
		remaining = 0
	}
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetInMs, 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(d.RetryAfterMs/1000, 10))
	}
}

// RespondRateLimited writes the standard 429 envelope with headers set,
// for handlers that need to short-circuit on a denied Decision.
func RespondRateLimited(c echo.Context, d ratelimit.Decision) error {
	SetRateLimitHeaders(c, d)
	return Fail(c, 429, "rate limit exceeded")
}
