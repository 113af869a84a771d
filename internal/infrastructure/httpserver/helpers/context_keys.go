package helpers

import (
	"github.com/labstack/echo/v4"
)

type ctxKey string

const (
	keyInternalCaller ctxKey = "internal_caller"
)

func SetInternalCaller(c echo.Context, subject string) { c.Set(string(keyInternalCaller), subject) }
func GetInternalCallerRaw(c echo.Context) (string, bool) {
	v := c.Get(string(keyInternalCaller))
	s, ok := v.(string)
	return s, ok
}
