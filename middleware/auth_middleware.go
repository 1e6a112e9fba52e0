// middleware/auth_middleware.go
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referral/models"
)

func deny(c echo.Context, status int, message string) error {
	return c.JSON(status, models.Response{Status: status, Message: message})
}

// RequireUserType lets through callers of one of the allowed types.
func RequireUserType(allowedTypes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := CallerFrom(c)
			if caller.Type == "" {
				c.Logger().Error("Authentication failed: user type not found")
				return deny(c, http.StatusUnauthorized, "Authentication failed: user type not found")
			}
			if caller.Is(allowedTypes...) {
				return next(c)
			}
			c.Logger().Warnf("Access denied for user type: %s, allowed types: %v", caller.Type, allowedTypes)
			return deny(c, http.StatusForbidden, "Access denied for your user type")
		}
	}
}

// RequireSelfOrUserType lets a member read its own resources (the :id path
// parameter) and callers of the allowed types read anyone's.
func RequireSelfOrUserType(allowedTypes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := CallerFrom(c)
			if caller.Is(allowedTypes...) || caller.Owns(c.Param("id")) {
				return next(c)
			}
			return deny(c, http.StatusForbidden, "Access denied")
		}
	}
}
