// routes/commission_routes.go
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referral/controllers"
	"github.com/HSouheill/barrim_referral/middleware"
)

// RegisterCommissionRoutes registers event ingestion and lookup routes.
func RegisterCommissionRoutes(api *echo.Group, cc *controllers.CommissionController) {
	events := api.Group("/commission-events")
	events.Use(middleware.RequireUserType(middleware.UserTypeService, middleware.UserTypeAdmin))

	events.POST("", cc.SubmitEvent)
	events.GET("/:id", cc.GetEvent)
	events.POST("/:id/reverse", cc.ReverseEvent, middleware.RequireUserType(middleware.UserTypeAdmin))
}
