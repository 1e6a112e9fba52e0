package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/middleware"
	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/services"
	"github.com/HSouheill/barrim_referral/utils"
)

const (
	requestTimeout     = 10 * time.Second
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
)

type MemberController struct {
	network    *services.NetworkService
	commission *services.CommissionService
	baseURL    string
	log        *zap.Logger
}

func NewMemberController(network *services.NetworkService, commission *services.CommissionService, baseURL string, log *zap.Logger) *MemberController {
	return &MemberController{
		network:    network,
		commission: commission,
		baseURL:    baseURL,
		log:        log.Named("members"),
	}
}

// Register creates a member, optionally under the owner of a referral code.
func (mc *MemberController) Register(c echo.Context) error {
	var req models.RegisterMemberRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, mc.log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	member, err := mc.network.Register(ctx, req.DisplayName, req.SponsorReferralCode)
	if err != nil {
		return respondError(c, mc.log, err)
	}
	return ok(c, http.StatusCreated, "Member registered successfully", member)
}

// GetMember returns one member.
func (mc *MemberController) GetMember(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	member, err := mc.network.Member(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, mc.log, err)
	}
	return ok(c, http.StatusOK, "Member retrieved successfully", member)
}

// AttachSponsor sets the sponsor of the member in the path. Moving a member
// that already has a sponsor is reserved to admins.
func (mc *MemberController) AttachSponsor(c echo.Context) error {
	var req models.AttachSponsorRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, mc.log, err)
	}
	if req.AllowReparent && !middleware.CallerFrom(c).Is(middleware.UserTypeAdmin) {
		return c.JSON(http.StatusForbidden, models.Response{
			Status:  http.StatusForbidden,
			Message: "Only admins can move a member to another sponsor",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	memberID := c.Param("id")
	if err := mc.network.Attach(ctx, memberID, req.SponsorID, req.AllowReparent); err != nil {
		return respondError(c, mc.log, err)
	}
	member, err := mc.network.Member(ctx, memberID)
	if err != nil {
		return respondError(c, mc.log, err)
	}
	return ok(c, http.StatusOK, "Sponsor attached successfully", member)
}

// SetStatus activates or deactivates a member.
func (mc *MemberController) SetStatus(c echo.Context) error {
	var req models.MemberStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, mc.log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	member, err := mc.network.SetActive(ctx, c.Param("id"), *req.IsActive)
	if err != nil {
		return respondError(c, mc.log, err)
	}
	return ok(c, http.StatusOK, "Member status updated successfully", member)
}

// GetBalance folds the member's ledger.
func (mc *MemberController) GetBalance(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	balance, err := mc.commission.Balance(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, mc.log, err)
	}
	return ok(c, http.StatusOK, "Balance retrieved successfully", balance)
}

// GetLedger lists the member's latest ledger entries (?limit=, default 50).
func (mc *MemberController) GetLedger(c echo.Context) error {
	limit := defaultLedgerLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLedgerLimit {
			return respondError(c, mc.log, badRequest("limit must be between 1 and 500", nil))
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	entries, err := mc.commission.History(ctx, c.Param("id"), limit)
	if err != nil {
		return respondError(c, mc.log, err)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return ok(c, http.StatusOK, "Ledger retrieved successfully", entries)
}

// GetReferralQRCode renders the member's signup link as a QR code.
func (mc *MemberController) GetReferralQRCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	member, err := mc.network.Member(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, mc.log, err)
	}
	qrCode, err := utils.GenerateReferralQRCode(mc.baseURL, member.ReferralCode)
	if err != nil {
		return respondError(c, mc.log, err)
	}
	return ok(c, http.StatusOK, "Referral QR code generated successfully", map[string]string{
		"referralCode": member.ReferralCode,
		"referralLink": utils.ReferralLink(mc.baseURL, member.ReferralCode),
		"qrCode":       qrCode,
	})
}
