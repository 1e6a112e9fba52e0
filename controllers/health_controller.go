package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type HealthController struct {
	driver string
	cached bool
}

func NewHealthController(driver string, cached bool) *HealthController {
	return &HealthController{driver: driver, cached: cached}
}

// Health reports liveness and the wiring picked at startup.
func (hc *HealthController) Health(c echo.Context) error {
	cache := "disabled"
	if hc.cached {
		cache = "redis"
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"storage": hc.driver,
		"cache":   cache,
	})
}
