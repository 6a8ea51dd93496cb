package middleware

import (
    "strconv"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/ticket-gate/internal/metrics"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// RequestLogger assigns a request id (reusing X-Request-ID when the client
// sent one) and logs one line per request once the handler returns.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            reqID := c.Request().Header.Get(RequestIDHeader)
            if reqID == "" {
                reqID = uuid.NewString()
            }
            c.Set("request_id", reqID)
            c.Response().Header().Set(RequestIDHeader, reqID)

            err := next(c)
            if err != nil {
                c.Error(err) // let echo write the response so the status is final
            }

            elapsed := time.Since(start)
            route := c.Path()
            if route == "" {
                route = "unmatched"
            }
            metrics.HTTPRequestsTotal.WithLabelValues(route, c.Request().Method, strconv.Itoa(c.Response().Status)).Inc()
            metrics.HTTPRequestDuration.WithLabelValues(route, c.Request().Method).Observe(elapsed.Seconds())

            log.Info("request completed",
                zap.String("request_id", reqID),
                zap.String("method", c.Request().Method),
                zap.String("path", c.Path()),
                zap.Int("status", c.Response().Status),
                zap.String("ip", c.RealIP()),
                zap.String("user_id", currentUserID(c)),
                zap.Duration("latency", elapsed),
            )
            return nil
        }
    }
}
