package middleware

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/present/rest/presenter"
)

var tracer = otel.Tracer("caller")

// CallerHeader carries the account acting on a ledger operation.
// The header is trusted as-is; signature verification belongs to
// whatever fronts this service.
const CallerHeader = "X-Caller-Address"

// IdentifyCaller extracts and normalizes the caller address, storing
// it on the request context for handlers that need one.
func IdentifyCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, span := tracer.Start(c.Request().Context(), "Caller.Identify")
		defer span.End()

		raw := c.Request().Header.Get(CallerHeader)
		if raw == "" {
			return next(c)
		}

		addr, err := domain.NormalizeAddress(raw)
		if err != nil {
			// A present but malformed header is a caller mistake;
			// report it as such rather than an identity gap.
			span.RecordError(err)
			return presenter.Error(c, err)
		}

		span.SetAttributes(attribute.String("caller", addr))
		c.Set(domain.CallerCtxKey, addr)
		return next(c)
	}
}

// Caller returns the normalized caller address, or ErrUnauthorized
// when the request carried none.
func Caller(c echo.Context) (string, error) {
	addr, ok := c.Get(domain.CallerCtxKey).(string)
	if !ok || addr == "" {
		return "", domain.ErrUnauthorized
	}
	return addr, nil
}
