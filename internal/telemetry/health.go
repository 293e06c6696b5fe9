package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

// DependencyCheck probes one dependency (a store, a provider, a cache)
// and returns an error if it's unhealthy.
type DependencyCheck func(ctx context.Context) error

type registeredCheck struct {
	name     string
	check    DependencyCheck
	critical bool
}

// CheckResult is one dependency's outcome.
type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// HealthAggregator runs registered DependencyChecks concurrently for
// /health, /health/ready, and /status. /health/live never touches a
// dependency check — it only reports that the process is alive.
type HealthAggregator struct {
	checks []registeredCheck
	limit  int
}

// NewHealthAggregator builds an aggregator that runs up to concurrencyLimit
// checks at once.
func NewHealthAggregator(concurrencyLimit int) *HealthAggregator {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 8
	}
	return &HealthAggregator{limit: concurrencyLimit}
}

// Register adds a named dependency check. critical checks gate
// /health/ready; non-critical checks are informational only (surfaced
// on /status but never block readiness).
func (h *HealthAggregator) Register(name string, check DependencyCheck, critical bool) {
	h.checks = append(h.checks, registeredCheck{name: name, check: check, critical: critical})
}

// RunAll executes every registered check concurrently, trapping both
// returned errors and panics per-check so one broken dependency check
// can never take down the whole health endpoint.
func (h *HealthAggregator) RunAll(ctx context.Context) []CheckResult {
	results := make([]CheckResult, len(h.checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.limit)

	for i, rc := range h.checks {
		i, rc := i, rc
		g.Go(func() (err error) {
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				results[i] = CheckResult{
					Name: rc.name, Critical: rc.critical,
					Healthy:   err == nil,
					LatencyMs: time.Since(start).Milliseconds(),
				}
				if err != nil {
					results[i].Error = err.Error()
				}
			}()
			return rc.check(gctx)
		})
	}
	_ = g.Wait() // per-check errors are captured in results, not propagated
	return results
}

// RegisterRoutes mounts /health, /health/live, /health/ready, and
// /status on e.
func (h *HealthAggregator) RegisterRoutes(e *echo.Echo) {
	e.GET("/health/live", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/health", h.healthHandler)
	e.GET("/health/ready", h.readyHandler)
	e.GET("/status", h.statusHandler)
}

func (h *HealthAggregator) healthHandler(c echo.Context) error {
	results := h.RunAll(c.Request().Context())
	status := http.StatusOK
	for _, r := range results {
		if !r.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	return c.JSON(status, map[string]any{"checks": results})
}

func (h *HealthAggregator) readyHandler(c echo.Context) error {
	results := h.RunAll(c.Request().Context())
	status := http.StatusOK
	for _, r := range results {
		if r.Critical && !r.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	return c.JSON(status, map[string]any{"ready": status == http.StatusOK, "checks": results})
}

func (h *HealthAggregator) statusHandler(c echo.Context) error {
	results := h.RunAll(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{"checks": results})
}
