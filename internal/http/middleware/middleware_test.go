package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func okHandler(c echo.Context) error {
	id, _ := ClientIDFromCtx(c)
	return c.String(http.StatusOK, id)
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGatewayToken(t *testing.T) {
	e := echo.New()
	e.POST("/webhook", okHandler, GatewayTokenMiddleware("s3cret", nil))

	cases := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"gateway header", map[string]string{"X-Gateway-Token": "s3cret"}, http.StatusOK},
		{"api token header", map[string]string{"X-Api-Token": "s3cret"}, http.StatusOK},
		{"gateway header wins", map[string]string{"X-Gateway-Token": "wrong", "X-Api-Token": "s3cret"}, http.StatusForbidden},
		{"wrong secret", map[string]string{"X-Gateway-Token": "nope"}, http.StatusForbidden},
		{"missing header", nil, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := serve(e, req)
			require.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusForbidden {
				require.JSONEq(t, `{"error":"invalid token"}`, rec.Body.String())
			}
		})
	}
}

func TestGatewayToken_EmptySecretRejects(t *testing.T) {
	e := echo.New()
	e.POST("/webhook", okHandler, GatewayTokenMiddleware("", nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Gateway-Token", "")
	require.Equal(t, http.StatusForbidden, serve(e, req).Code)
}

func TestAPIKey(t *testing.T) {
	e := echo.New()
	e.GET("/v1/x", okHandler, APIKeyMiddleware([]string{"alpha", " ", "beta"}))

	req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	require.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	req.Header.Set("X-API-Key", "gamma")
	require.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	req.Header.Set("X-API-Key", "beta")
	rec := serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "key1", rec.Body.String())
}

func TestRateLimit_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	e := echo.New()
	e.GET("/v1/x", okHandler,
		APIKeyMiddleware([]string{"alpha", "beta"}),
		RateLimitMiddleware(RateLimitConfig{
			Redis:          rdb,
			RPS:            2,
			RetryAfterHint: true,
			Now:            func() time.Time { return now },
		}),
	)

	call := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
		req.Header.Set("X-API-Key", key)
		return serve(e, req)
	}

	require.Equal(t, http.StatusOK, call("alpha").Code)
	require.Equal(t, http.StatusOK, call("alpha").Code)

	limited := call("alpha")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "1", limited.Header().Get("Retry-After"))

	// separate budget per client
	require.Equal(t, http.StatusOK, call("beta").Code)

	now = now.Add(time.Second)
	require.Equal(t, http.StatusOK, call("alpha").Code)
}

func TestRateLimit_RedisDownAllows(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	e := echo.New()
	e.GET("/v1/x", okHandler,
		APIKeyMiddleware([]string{"alpha"}),
		RateLimitMiddleware(RateLimitConfig{Redis: rdb, RPS: 1}),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	req.Header.Set("X-API-Key", "alpha")
	require.Equal(t, http.StatusOK, serve(e, req).Code)
}
