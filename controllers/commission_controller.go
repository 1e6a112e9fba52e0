package controllers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/services"
)

type CommissionController struct {
	commission *services.CommissionService
	log        *zap.Logger
}

func NewCommissionController(commission *services.CommissionService, log *zap.Logger) *CommissionController {
	return &CommissionController{commission: commission, log: log.Named("commission-api")}
}

// SubmitEvent distributes a qualifying event. Resubmitting a known event id
// returns the original result with 200 instead of 201.
func (cc *CommissionController) SubmitEvent(c echo.Context) error {
	var req models.SubmitEventRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, cc.log, err)
	}

	ev := models.CommissionEvent{
		ID:         req.EventID,
		Kind:       req.Kind,
		MemberID:   req.MemberID,
		BaseAmount: req.BaseAmount,
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = req.OccurredAt.UTC()
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := cc.commission.Submit(ctx, ev)
	if err != nil {
		return respondError(c, cc.log, err)
	}
	if res.Duplicate {
		return ok(c, http.StatusOK, "Event already processed", res)
	}
	return ok(c, http.StatusCreated, "Commission distributed successfully", res)
}

// GetEvent returns the record and entries of an event.
func (cc *CommissionController) GetEvent(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := cc.commission.Event(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, cc.log, err)
	}
	return ok(c, http.StatusOK, "Event retrieved successfully", res)
}

// ReverseEvent offsets every credit of a distributed event.
func (cc *CommissionController) ReverseEvent(c echo.Context) error {
	var req models.ReverseEventRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, cc.log, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := cc.commission.Reverse(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return respondError(c, cc.log, err)
	}
	if res.Duplicate {
		return ok(c, http.StatusOK, "Event already reversed", res)
	}
	return ok(c, http.StatusCreated, "Event reversed successfully", res)
}
