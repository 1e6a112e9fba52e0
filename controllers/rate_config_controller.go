package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/services"
)

type RateConfigController struct {
	rates *services.RateConfigService
	log   *zap.Logger
	now   func() time.Time
}

func NewRateConfigController(rates *services.RateConfigService, log *zap.Logger) *RateConfigController {
	return &RateConfigController{rates: rates, log: log.Named("rates-api"), now: time.Now}
}

func (rc *RateConfigController) withPayoutDate(cfg models.RateConfig) models.RateConfigResponse {
	return models.RateConfigResponse{
		Config:         cfg,
		NextPayoutDate: services.NextPayoutDate(cfg.PayoutSchedule, rc.now()),
	}
}

// GetRateConfig returns the active rate table.
func (rc *RateConfigController) GetRateConfig(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	cfg, err := rc.rates.Active(ctx)
	if err != nil {
		return respondError(c, rc.log, err)
	}
	return ok(c, http.StatusOK, "Rate configuration retrieved successfully", rc.withPayoutDate(cfg))
}

// bindRateConfig decodes a rate table body. Range checks happen in the
// service so that every entry point applies the same rules.
func bindRateConfig(c echo.Context) (models.RateConfig, error) {
	var cfg models.RateConfig
	if err := c.Bind(&cfg); err != nil {
		return models.RateConfig{}, badRequest("Invalid request body", err.Error())
	}
	return cfg, nil
}

// UpdateRateConfig validates, stores and activates a new rate table.
func (rc *RateConfigController) UpdateRateConfig(c echo.Context) error {
	cfg, err := bindRateConfig(c)
	if err != nil {
		return respondError(c, rc.log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	active, err := rc.rates.Update(ctx, cfg)
	if err != nil {
		return respondError(c, rc.log, err)
	}
	return ok(c, http.StatusOK, "Rate configuration updated successfully", rc.withPayoutDate(active))
}

// ProposeRateConfig stores a rate table without activating it.
func (rc *RateConfigController) ProposeRateConfig(c echo.Context) error {
	cfg, err := bindRateConfig(c)
	if err != nil {
		return respondError(c, rc.log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	stored, err := rc.rates.Propose(ctx, cfg)
	if err != nil {
		return respondError(c, rc.log, err)
	}
	return ok(c, http.StatusCreated, "Rate configuration proposed successfully", stored)
}

// ActivateRateConfig makes a stored version the active one.
func (rc *RateConfigController) ActivateRateConfig(c echo.Context) error {
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version < 1 {
		return respondError(c, rc.log, badRequest("version must be a positive integer", nil))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	active, err := rc.rates.Activate(ctx, version)
	if err != nil {
		return respondError(c, rc.log, err)
	}
	return ok(c, http.StatusOK, "Rate configuration activated successfully", rc.withPayoutDate(active))
}

// ListRateConfigVersions returns every stored version, oldest first.
func (rc *RateConfigController) ListRateConfigVersions(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	versions, err := rc.rates.Versions(ctx)
	if err != nil {
		return respondError(c, rc.log, err)
	}
	if versions == nil {
		versions = []models.RateConfig{}
	}
	return ok(c, http.StatusOK, "Rate configuration versions retrieved successfully", versions)
}
