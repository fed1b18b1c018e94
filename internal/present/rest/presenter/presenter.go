package presenter

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/propdao/propindex/internal/domain"
)

// Envelope is the uniform JSON response shape.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, Envelope{
		Success:   true,
		Data:      payload,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Error maps a domain error to its HTTP status and stable code.
// Anything unrecognized becomes an opaque INTERNAL_ERROR: internal
// detail never leaks to callers.
func Error(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	message := "internal error"

	switch err.(type) {
	case domain.ValidationError:
		status = http.StatusBadRequest
		message = err.Error()
	case domain.AuthorizationError:
		status = http.StatusForbidden
		message = err.Error()
	case domain.StateError:
		status = http.StatusConflict
		message = err.Error()
	case domain.NotFoundError:
		status = http.StatusNotFound
		message = err.Error()
	}

	return c.JSON(status, Envelope{
		Success:   false,
		Error:     message,
		Code:      domain.ErrorCode(err),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// BadRequest reports a malformed request body or parameter.
func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, Envelope{
		Success:   false,
		Error:     msg,
		Code:      "VALIDATION_ERROR",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// RateLimited reports that the caller exceeded the request budget.
func RateLimited(c echo.Context, retryAfter time.Duration) error {
	c.Response().Header().Set("Retry-After", retryAfter.Round(time.Second).String())
	return c.JSON(http.StatusTooManyRequests, Envelope{
		Success:   false,
		Error:     "rate limit exceeded",
		Code:      "RATE_LIMIT_EXCEEDED",
		Data:      map[string]any{"retryAfterSeconds": int(retryAfter.Seconds())},
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
