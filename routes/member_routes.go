// routes/member_routes.go
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referral/controllers"
	"github.com/HSouheill/barrim_referral/middleware"
)

// RegisterMemberRoutes registers member registration, sponsor attach and
// member self-service routes.
func RegisterMemberRoutes(api *echo.Group, mc *controllers.MemberController) {
	members := api.Group("/members")

	writers := middleware.RequireUserType(middleware.UserTypeService, middleware.UserTypeAdmin)
	members.POST("", mc.Register, writers)
	members.POST("/:id/sponsor", mc.AttachSponsor, writers)
	members.PUT("/:id/status", mc.SetStatus, writers)

	readers := middleware.RequireSelfOrUserType(middleware.UserTypeService, middleware.UserTypeAdmin)
	members.GET("/:id", mc.GetMember, readers)
	members.GET("/:id/balance", mc.GetBalance, readers)
	members.GET("/:id/ledger", mc.GetLedger, readers)
	members.GET("/:id/referral-qrcode", mc.GetReferralQRCode, readers)
}
