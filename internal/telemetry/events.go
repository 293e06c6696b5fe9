package telemetry

import "go.uber.org/zap"

// LogLensOperationalEvent writes one structured log line tagged with
// whatever correlation context ctx carries, so every operational event
// across the gate (rate-limit decision, cache hit, breaker trip,
// fallback taken) is traceable back to its originating request without
// the caller threading correlation fields through manually.
func LogLensOperationalEvent(logger *zap.Logger, cc *CorrelationContext, event string, fields ...zap.Field) {
	if cc != nil {
		fields = append(fields, zap.String("correlationId", cc.CorrelationID), zap.String("userId", cc.UserID))
	}
	logger.Info(event, fields...)
}
