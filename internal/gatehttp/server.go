// Package gatehttp wires the Echo HTTP server: request logging, panic
// recovery, tracing, a fixed JSON error envelope, and rate-limit
// response headers — the same middleware chain shape every teacher
// service builds in its cmd/api/main.go, generalized into one
// reusable constructor.
package gatehttp

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
)

// NewServer builds an *echo.Echo with the standard middleware chain:
// OTel span per request, structured request logging via logger, panic
// recovery, and the fixed error envelope (see errors.go).
func NewServer(serviceName string, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http_request",
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	return e
}

// errorHandler renders every unhandled error (including echo.HTTPError
// from middleware like binding failures) through the same envelope
// successful handlers use for their own error responses.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		message := "internal error"
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			if s, ok := he.Message.(string); ok {
				message = s
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("unhandled_request_error", zap.Error(err), zap.String("path", c.Path()))
		}
		_ = c.JSON(status, ErrorEnvelope{Error: message})
	}
}
