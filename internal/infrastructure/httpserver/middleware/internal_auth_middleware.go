package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/httpserver/helpers"
)

type InternalAuthMiddleware struct {
	tokens *auth.InternalTokens
	logger *logrus.Logger
}

func NewInternalAuthMiddleware(tokens *auth.InternalTokens, logger *logrus.Logger) *InternalAuthMiddleware {
	return &InternalAuthMiddleware{tokens: tokens, logger: logger}
}

// RequireInternalToken validates the bearer token on /internal routes and records
// the caller. Without a configured secret every request passes.
func (m *InternalAuthMiddleware) RequireInternalToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.tokens.Enabled() {
				return next(c)
			}

			tokenString, err := helpers.GetBearerToken(c)
			if err != nil {
				return err
			}

			claims, err := m.tokens.Verify(tokenString)
			if err != nil {
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"ip": c.RealIP(), "path": c.Request().URL.Path, "error": err.Error()}).Warn("internal token validation failed")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid internal token")
			}

			helpers.SetInternalCaller(c, claims.Subject)
			return next(c)
		}
	}
}
