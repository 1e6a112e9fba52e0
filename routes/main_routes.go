package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referral/controllers"
	"github.com/HSouheill/barrim_referral/metrics"
	"github.com/HSouheill/barrim_referral/middleware"
)

// Controllers bundles every handler group the API exposes.
type Controllers struct {
	Health     *controllers.HealthController
	Members    *controllers.MemberController
	Commission *controllers.CommissionController
	Analytics  *controllers.AnalyticsController
	Rates      *controllers.RateConfigController
}

// SetupRoutes configures all API routes by calling individual route registration functions
func SetupRoutes(e *echo.Echo, jwtSecret string, ctrl Controllers) {
	e.Match([]string{"GET", "HEAD"}, "/health", ctrl.Health.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	api.Use(middleware.JWTMiddleware(jwtSecret), middleware.RequireJSON())

	RegisterMemberRoutes(api, ctrl.Members)
	RegisterCommissionRoutes(api, ctrl.Commission)
	RegisterAdminRoutes(api, ctrl.Analytics, ctrl.Rates)
}
