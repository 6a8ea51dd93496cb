package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/ticket-gate/internal/handler"
	"github.com/iliyamo/ticket-gate/internal/middleware"
	"github.com/iliyamo/ticket-gate/internal/model"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterAuth registers the session endpoints under /v1/auth.  None of
// them require an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
}

// RegisterAdmin registers door-staff endpoints.  Every route requires an
// ADMIN access token and is rate limited per scanner.
func RegisterAdmin(e *echo.Echo, t *handler.TicketHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
		limiter,
	)
	g.POST("/verify-ticket", t.VerifyTicket)
	g.POST("/reset-ticket/:orderId", t.ResetTicket)
	g.POST("/orders/:id/ticket", t.IssueTicket)
}

// RegisterCustomer registers ticket-holder endpoints.  Ownership of the
// order is checked in the handler.
func RegisterCustomer(e *echo.Echo, t *handler.TicketHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer, model.RoleAdmin),
	)
	g.GET("/orders/:id/qr.png", t.TicketImage)
}
