package middleware

import (
    "context"
    "fmt"
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/ticket-gate/internal/config"
)

// tokenBucketScript refills and takes one token atomically inside Redis so
// every server instance shares the same bucket.  Returns {allowed, tokens,
// retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        local until_next = interval_ms - (now_ms - last_refill)
        if until_next < 0 then until_next = 0 end
        retry_after_ms = until_next
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

// Decision is the limiter's verdict for one request.
type Decision struct {
    Allowed    bool
    Remaining  int64
    RetryAfter time.Duration
}

// Limiter is a Redis-backed token bucket.
type Limiter struct {
    cfg config.RateLimitConfig
    rdb redis.Scripter
    now func() time.Time
}

// NewLimiter returns a limiter; rdb may be any go-redis client.
func NewLimiter(cfg config.RateLimitConfig, rdb redis.Scripter) *Limiter {
    return &Limiter{cfg: cfg, rdb: rdb, now: time.Now}
}

// Take consumes one token from the bucket identified by key.
func (l *Limiter) Take(ctx context.Context, key string) (Decision, error) {
    args := []interface{}{
        l.now().UnixMilli(),
        l.cfg.Capacity,
        l.cfg.RefillTokens,
        l.cfg.RefillInterval.Milliseconds(),
        int64(l.cfg.TTL / time.Second),
    }
    vals, err := tokenBucketScript.Run(ctx, l.rdb, []string{key}, args...).Result()
    if err != nil {
        return Decision{}, err
    }
    arr, ok := vals.([]interface{})
    if !ok || len(arr) != 3 {
        return Decision{}, fmt.Errorf("unexpected script result %#v", vals)
    }
    return Decision{
        Allowed:    asInt64(arr[0]) == 1,
        Remaining:  asInt64(arr[1]),
        RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
    }, nil
}

// NewTokenBucket returns middleware enforcing cfg.  With rate limiting
// disabled or no Redis client it is a pass-through.  Redis errors fail
// open: a broken limiter must not stop doors from scanning.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    lim := NewLimiter(cfg, rdb)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            d, err := lim.Take(c.Request().Context(), key)
            if err != nil {
                log.Warn("ratelimit: redis error, allowing request", zap.String("key", key), zap.Error(err))
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }

            if !d.Allowed {
                secs := int(math.Ceil(d.RetryAfter.Seconds()))
                h.Set("Retry-After", strconv.Itoa(secs))
                log.Info("ratelimit: blocked", zap.String("key", key), zap.Duration("retry_after", d.RetryAfter))
                return c.JSON(http.StatusTooManyRequests, echo.Map{
                    "error":       "too_many_requests",
                    "message":     "rate limit exceeded",
                    "retry_after": secs,
                })
            }
            return next(c)
        }
    }
}

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64: return t
    case int: return int64(t)
    case float64: return int64(t)
    case string:
        if n, err := strconv.ParseInt(t, 10, 64); err == nil { return n }
    }
    return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    parts := []string{cfg.Prefix}
    ip := c.RealIP()
    if ip == "" { ip = "unknown" }
    uid := currentUserID(c)
    route := c.Request().Method + " " + c.Path()

    switch strings.ToLower(cfg.KeyStrategy) {
    case "ip":
        parts = append(parts, "ip", ip)
    case "user":
        parts = append(parts, "user", uid)
    case "ip_route":
        parts = append(parts, "ip", ip, "route", route)
    case "user_route":
        parts = append(parts, "user", uid, "route", route)
    default:
        parts = append(parts, "ip", ip, "user", uid, "route", route)
    }
    return strings.Join(parts, ":")
}
