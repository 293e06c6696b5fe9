package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Step is one recorded operation within a request's LensTrace.
type Step struct {
	Component  string
	Operation  string
	DurationMs int64
	Success    bool
	Detail     string
}

// LensTrace accumulates the steps one request takes across components
// (provider fetch, classification, evidence build, LLM call, guard
// checks) so the whole path can be flushed as a single structured log
// line rather than scattered across many.
type LensTrace struct {
	mu        sync.Mutex
	operation string
	steps     []Step
}

func newLensTrace(operation string) *LensTrace {
	return &LensTrace{operation: operation}
}

// Record appends a completed step. Safe for concurrent use since a
// single request may fan out across parallel provider fetches.
func (t *LensTrace) Record(component, operation string, duration time.Duration, success bool, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, Step{
		Component: component, Operation: operation,
		DurationMs: duration.Milliseconds(), Success: success, Detail: detail,
	})
}

func withTrace(ctx context.Context, t *LensTrace) context.Context {
	return context.WithValue(ctx, traceAccumKey, t)
}

// TraceFromContext returns the LensTrace attached by StartRequest, if
// any.
func TraceFromContext(ctx context.Context) (*LensTrace, bool) {
	t, ok := ctx.Value(traceAccumKey).(*LensTrace)
	return t, ok
}

// Flush writes the accumulated steps as one structured zap log line.
// Call this when the request's handler returns; a nil publish func
// skips the optional NATS fan-out.
func (t *LensTrace) Flush(logger *zap.Logger, cc *CorrelationContext, publish func(operation string, steps []Step)) {
	t.mu.Lock()
	steps := append([]Step(nil), t.steps...)
	operation := t.operation
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Int("stepCount", len(steps)),
	}
	if cc != nil {
		fields = append(fields, zap.String("correlationId", cc.CorrelationID), zap.Duration("totalElapsed", time.Since(cc.StartedAt)))
	}
	for i, s := range steps {
		fields = append(fields,
			zap.String(stepKey(i, "component"), s.Component),
			zap.Int64(stepKey(i, "durationMs"), s.DurationMs),
			zap.Bool(stepKey(i, "success"), s.Success),
		)
	}
	logger.Info("lens_trace", fields...)

	if publish != nil {
		publish(operation, steps)
	}
}

func stepKey(i int, field string) string {
	return "step" + itoa(i) + "." + field
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
