package helpers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
)

// HeaderUserID names the operator on control-plane writes when the body omits it.
const HeaderUserID = "X-User-ID"

func GetBearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "empty token")
	}
	return token, nil
}

// GetInternalCaller returns the verified caller of an /internal route, or
// "anonymous" when internal auth is disabled.
func GetInternalCaller(c echo.Context) string {
	if s, ok := GetInternalCallerRaw(c); ok && s != "" {
		return s
	}
	return "anonymous"
}

// ResolveActor picks the acting user: body value first, then the X-User-ID header,
// then "system".
func ResolveActor(c echo.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := strings.TrimSpace(c.Request().Header.Get(HeaderUserID)); h != "" {
		return h
	}
	return "system"
}

// SetRateLimitHeaders writes the X-RateLimit-* headers, plus Retry-After on deny.
func SetRateLimitHeaders(c echo.Context, res *ports.AdmissionResult) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
}
