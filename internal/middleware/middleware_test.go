package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-gate/internal/config"
)

const secret = "jwt-secret"

func sign(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func protected(roles ...string) *echo.Echo {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c)+"|"+Role(c))
	}, JWTAuth(secret), RequireRole(roles...))
	return e
}

func call(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_AcceptsAdmin(t *testing.T) {
	tok := sign(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "A1", "role": "ADMIN", "exp": time.Now().Add(time.Minute).Unix(),
	})

	rec := call(protected("ADMIN"), tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A1|ADMIN", rec.Body.String())
}

func TestJWTAuth_Rejections(t *testing.T) {
	exp := time.Now().Add(time.Minute).Unix()
	cases := map[string]string{
		"missing":   "",
		"garbage":   "not-a-jwt",
		"expired":   sign(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "A1", "role": "ADMIN", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no exp":    sign(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "A1", "role": "ADMIN"}),
		"no sub":    sign(t, jwt.SigningMethodHS256, jwt.MapClaims{"role": "ADMIN", "exp": exp}),
		"wrong alg": sign(t, jwt.SigningMethodHS512, jwt.MapClaims{"sub": "A1", "role": "ADMIN", "exp": exp}),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, call(protected("ADMIN"), tok).Code)
		})
	}
}

func TestRequireRole_ForbidsCustomer(t *testing.T) {
	tok := sign(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "U1", "role": "CUSTOMER", "exp": time.Now().Add(time.Minute).Unix(),
	})
	assert.Equal(t, http.StatusForbidden, call(protected("ADMIN"), tok).Code)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/verify-ticket", nil)
	req.Header.Set("X-Real-IP", "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/admin/verify-ticket")
	c.Set("user_id", "A1")

	cfg := config.RateLimitConfig{Prefix: "rl:scan", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:scan:user:A1:route:POST /v1/admin/verify-ticket", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:scan:ip:10.0.0.7", buildRateKey(cfg, c))
}

func TestNewTokenBucket_DisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// scriptResult answers EVALSHA with a canned token bucket reply.
type scriptResult struct {
	redis.Scripter
	val  []interface{}
	keys []string
}

func (s *scriptResult) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	s.keys = keys
	return redis.NewCmdResult(s.val, nil)
}

func TestLimiter_Take(t *testing.T) {
	cfg := config.RateLimitConfig{Capacity: 2, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}

	allowed := &scriptResult{val: []interface{}{int64(1), int64(1), int64(0)}}
	d, err := NewLimiter(cfg, allowed).Take(context.Background(), "rl:scan:k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
	assert.Equal(t, []string{"rl:scan:k"}, allowed.keys)

	blocked := &scriptResult{val: []interface{}{int64(0), int64(0), int64(750)}}
	d, err = NewLimiter(cfg, blocked).Take(context.Background(), "rl:scan:k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 750*time.Millisecond, d.RetryAfter)
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger(zap.NewNop()))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "scan-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "scan-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
