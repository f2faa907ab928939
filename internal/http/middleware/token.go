package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

var DefaultTokenHeaders = []string{"X-Gateway-Token", "X-Api-Token"}

// GatewayTokenMiddleware checks the shared webhook secret. The first header
// from headers that is present is compared; an empty secret rejects everything.
func GatewayTokenMiddleware(secret string, headers []string) echo.MiddlewareFunc {
	if len(headers) == 0 {
		headers = DefaultTokenHeaders
	}
	want := []byte(secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var got string
			for _, h := range headers {
				if v := strings.TrimSpace(c.Request().Header.Get(h)); v != "" {
					got = v
					break
				}
			}

			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid token"})
			}
			return next(c)
		}
	}
}
