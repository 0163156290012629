package handler

import (
	"context"
	"net/http"

	"github.com/haatos/verify-ci/internal"
	"github.com/labstack/echo/v4"
)

type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, value string) (bool, error)
}

// APIKeyMiddleware rejects requests that do not carry a known API key in the
// webhook key header.
func APIKeyMiddleware(authenticator APIKeyAuthenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := c.Request().Header.Get(internal.WebhookTriggerKeyHeader)
			ok, err := authenticator.Authenticate(c.Request().Context(), value)
			if err != nil {
				return newError(err, http.StatusInternalServerError, "unable to verify api key")
			}
			if !ok {
				return newError(nil, http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}
