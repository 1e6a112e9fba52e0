package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// defaultOrigins are the admin dashboard hosts.
var defaultOrigins = []string{
	"http://localhost:3000",
	"https://admin.barrim.online",
	"https://admin.barrim.com",
}

// AllowedOrigins merges the default dashboard origins with a comma separated
// list such as the CORS_ALLOWED_ORIGINS value.
func AllowedOrigins(extra string) []string {
	origins := append([]string(nil), defaultOrigins...)
	for _, origin := range strings.Split(extra, ",") {
		if o := strings.TrimSpace(origin); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// CORS allows the dashboard to call the admin API with credentials.
func CORS(origins []string) echo.MiddlewareFunc {
	return echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "HEAD", "PUT", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		MaxAge:           86400, // 24 hours
	})
}
