package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestHealthAggregator_AllHealthyReturns200(t *testing.T) {
	agg := NewHealthAggregator(4)
	agg.Register("kvstore", func(ctx context.Context) error { return nil }, true)
	agg.Register("audit", func(ctx context.Context) error { return nil }, true)

	results := agg.RunAll(context.Background())
	for _, r := range results {
		if !r.Healthy {
			t.Fatalf("expected all checks healthy, got %+v", r)
		}
	}

	e := echo.New()
	agg.RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health when every check is healthy, got %d", rec.Code)
	}
}

func TestHealthAggregator_FailingCriticalCheckFailsReadiness(t *testing.T) {
	agg := NewHealthAggregator(4)
	agg.Register("kvstore", func(ctx context.Context) error { return errors.New("unreachable") }, true)

	e := echo.New()
	agg.RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when a critical check fails, got %d", rec.Code)
	}
}

func TestHealthAggregator_FailingNonCriticalCheckDoesNotFailReadiness(t *testing.T) {
	agg := NewHealthAggregator(4)
	agg.Register("optional_provider", func(ctx context.Context) error { return errors.New("down") }, false)

	e := echo.New()
	agg.RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when only a non-critical check fails, got %d", rec.Code)
	}
}

func TestHealthAggregator_PanicInCheckIsTrappedAsUnhealthy(t *testing.T) {
	agg := NewHealthAggregator(4)
	agg.Register("flaky", func(ctx context.Context) error { panic("boom") }, true)

	results := agg.RunAll(context.Background())
	if len(results) != 1 || results[0].Healthy {
		t.Fatalf("expected panic to be trapped and reported unhealthy, got %+v", results)
	}
	if results[0].Error == "" {
		t.Fatal("expected a recorded error message for the panicking check")
	}
}

func TestHealthAggregator_LiveEndpointNeverRunsChecks(t *testing.T) {
	ran := false
	agg := NewHealthAggregator(4)
	agg.Register("kvstore", func(ctx context.Context) error { ran = true; return nil }, true)

	e := echo.New()
	agg.RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health/live, got %d", rec.Code)
	}
	if ran {
		t.Fatal("expected /health/live to never invoke dependency checks")
	}
}

func TestLensTrace_RecordsStepsAndFlushesOneLogLine(t *testing.T) {
	logger := zaptest.NewLogger(t)
	trace := newLensTrace("fetch_quote")
	trace.Record("provider", "finnhub_fetch", 12*time.Millisecond, true, "")
	trace.Record("cache", "write", 1*time.Millisecond, true, "")

	cc := &CorrelationContext{CorrelationID: "corr-1", StartedAt: time.Now().Add(-5 * time.Millisecond)}

	published := false
	trace.Flush(logger, cc, func(operation string, steps []Step) {
		published = true
		if operation != "fetch_quote" {
			t.Fatalf("expected operation name preserved, got %q", operation)
		}
		if len(steps) != 2 {
			t.Fatalf("expected 2 recorded steps, got %d", len(steps))
		}
	})
	if !published {
		t.Fatal("expected publish callback to be invoked")
	}
}

func TestLogLensOperationalEvent_IncludesCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	cc := &CorrelationContext{CorrelationID: "corr-2", UserID: "u1"}
	LogLensOperationalEvent(logger, cc, "cache_hit", zap.String("provider", "finnhub"))

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["correlationId"] != "corr-2" || fields["userId"] != "u1" {
		t.Fatalf("expected correlationId and userId fields, got %+v", fields)
	}
}
