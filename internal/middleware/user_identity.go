package middleware

import (
	"net/http"
	"strings"

	"PulseBoard/internal/service/ratelimit"
	xhttp "PulseBoard/pkg/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	userIDKey   = "user_id"
	userIDQuery = "userId"
	maxUserID   = 128
)

// UserIdentity resolves the caller from the X-User-Id header, falling back to
// the userId query parameter for EventSource clients. Callers without either
// get a fresh UUID. The resolved id is echoed in the response header.
// A non-nil limiter throttles each user independently.
func UserIdentity(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(xhttp.HeaderUserID))
			if id == "" {
				id = strings.TrimSpace(c.QueryParam(userIDQuery))
			}
			if id == "" {
				id = uuid.NewString()
			}
			if len(id) > maxUserID {
				return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("user id longer than %d characters", maxUserID))
			}

			c.Set(userIDKey, id)
			c.Response().Header().Set(xhttp.HeaderUserID, id)

			if limiter != nil && !limiter.Allow(id) {
				c.Response().Header().Set("Retry-After", "1")
				return xhttp.DataResponse(c, http.StatusTooManyRequests, []*xhttp.AppError{
					xhttp.TooManyRequestsError("too many requests"),
				})
			}
			return next(c)
		}
	}
}

// UserID returns the id resolved by UserIdentity, or "" when the middleware
// did not run.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
