package gatehttp

import "github.com/labstack/echo/v4"

// ErrorEnvelope is the one JSON error shape every handler and the
// global HTTPErrorHandler render.
type ErrorEnvelope struct {
	Error string `json:"error"`
}

// Fail writes status with message in the standard envelope.
func Fail(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorEnvelope{Error: message})
}
