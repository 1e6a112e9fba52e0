// routes/admin_routes.go
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referral/controllers"
	"github.com/HSouheill/barrim_referral/middleware"
)

// RegisterAdminRoutes registers the dashboard routes: network views,
// analytics and rate configuration.
func RegisterAdminRoutes(api *echo.Group, ac *controllers.AnalyticsController, rc *controllers.RateConfigController) {
	admin := api.Group("/admin")
	admin.Use(middleware.RequireUserType(middleware.UserTypeAdmin))

	admin.GET("/network/:id", ac.GetNetworkSnapshot)
	admin.GET("/analytics/overview", ac.GetOverview)
	admin.GET("/analytics/members/:id", ac.GetMemberStats)

	admin.GET("/rate-config", rc.GetRateConfig)
	admin.PUT("/rate-config", rc.UpdateRateConfig)
	admin.GET("/rate-config/versions", rc.ListRateConfigVersions)
	admin.POST("/rate-config/proposals", rc.ProposeRateConfig)
	admin.POST("/rate-config/:version/activate", rc.ActivateRateConfig)
}
