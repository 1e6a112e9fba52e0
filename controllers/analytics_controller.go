package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/services"
)

const analyticsTimeout = 30 * time.Second

type AnalyticsController struct {
	analytics *services.AnalyticsService
	log       *zap.Logger
	now       func() time.Time
}

func NewAnalyticsController(analytics *services.AnalyticsService, log *zap.Logger) *AnalyticsController {
	return &AnalyticsController{analytics: analytics, log: log.Named("analytics-api"), now: time.Now}
}

// GetNetworkSnapshot returns the tree below a member
// (?depth=1..10, default 3; ?includeInactive=true).
func (ac *AnalyticsController) GetNetworkSnapshot(c echo.Context) error {
	depth := 0
	if raw := c.QueryParam("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return respondError(c, ac.log, badRequest("depth must be a positive integer", nil))
		}
		depth = n
	}
	includeInactive := false
	if raw := c.QueryParam("includeInactive"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return respondError(c, ac.log, badRequest("includeInactive must be true or false", nil))
		}
		includeInactive = b
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), analyticsTimeout)
	defer cancel()

	snap, err := ac.analytics.NetworkSnapshot(ctx, c.Param("id"), depth, includeInactive)
	if err != nil {
		return respondError(c, ac.log, err)
	}
	return ok(c, http.StatusOK, "Network snapshot retrieved successfully", snap)
}

// GetOverview reports network and commission figures for ?from=&to=, given as
// RFC 3339 timestamps or YYYY-MM-DD dates. Both default to the trailing 30 days.
func (ac *AnalyticsController) GetOverview(c echo.Context) error {
	window := services.DefaultWindow(ac.now())
	if raw := c.QueryParam("from"); raw != "" {
		t, err := parseBound(raw, false)
		if err != nil {
			return respondError(c, ac.log, badRequest("from must be RFC 3339 or YYYY-MM-DD", nil))
		}
		window.From = t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := parseBound(raw, true)
		if err != nil {
			return respondError(c, ac.log, badRequest("to must be RFC 3339 or YYYY-MM-DD", nil))
		}
		window.To = t
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), analyticsTimeout)
	defer cancel()

	overview, err := ac.analytics.Overview(ctx, window)
	if err != nil {
		return respondError(c, ac.log, err)
	}
	return ok(c, http.StatusOK, "Analytics overview retrieved successfully", overview)
}

// parseBound parses a window bound. A bare date used as the upper bound
// covers the whole day.
func parseBound(raw string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}

// GetMemberStats reports team size, earnings and depth of one member.
func (ac *AnalyticsController) GetMemberStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), analyticsTimeout)
	defer cancel()

	stats, err := ac.analytics.MemberStats(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, ac.log, err)
	}
	return ok(c, http.StatusOK, "Member statistics retrieved successfully", stats)
}
