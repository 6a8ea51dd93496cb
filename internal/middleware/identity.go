package middleware

// identity.go holds the accessors for the identity that JWTAuth stores in
// the Echo context.  Handlers and other middleware read it through these
// helpers instead of type-asserting context values themselves.

import "github.com/labstack/echo/v4"

// UserID returns the authenticated user's id, or "" when unauthenticated.
func UserID(c echo.Context) string {
    s, _ := c.Get("user_id").(string)
    return s
}

// Role returns the authenticated user's role claim, or "".
func Role(c echo.Context) string {
    s, _ := c.Get("role").(string)
    return s
}

// currentUserID is UserID with a placeholder for anonymous callers, used in
// rate limit keys and request logs.
func currentUserID(c echo.Context) string {
    if id := UserID(c); id != "" {
        return id
    }
    return "anon"
}
