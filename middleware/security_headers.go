// middleware/security_headers.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/security"
)

// SecurityHeaders sets the headers of a JSON-only API.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Del("Server")
			h.Del("X-Powered-By")
			return next(c)
		}
	}
}

// RequireJSON rejects request bodies that are not JSON on write methods.
func RequireJSON() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost && req.Method != http.MethodPut {
				return next(c)
			}
			if req.ContentLength == 0 && strings.TrimSpace(req.Header.Get(echo.HeaderContentType)) == "" {
				return next(c)
			}
			if !security.ValidateContentType(req.Header.Get(echo.HeaderContentType)) {
				return c.JSON(http.StatusUnsupportedMediaType, models.Response{
					Status:  http.StatusUnsupportedMediaType,
					Message: "Content-Type must be application/json",
				})
			}
			return next(c)
		}
	}
}
