package controllers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/security"
	"github.com/HSouheill/barrim_referral/services"
)

// requestError is a malformed or invalid request body.
type requestError struct {
	message string
	data    interface{}
}

func (e *requestError) Error() string { return e.message }

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var rerr *requestError
	switch {
	case errors.As(err, &rerr), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrCycle),
		errors.Is(err, services.ErrAlreadyAttached),
		errors.Is(err, services.ErrEventConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrRateVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUnknownReferralCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrRateConfigMissing):
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

// respondError writes err in the response envelope. Server-side failures are
// logged and their details kept out of the body.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	status := statusFor(err)
	resp := models.Response{Status: status, Message: err.Error()}

	var verr *services.ValidationError
	var rerr *requestError
	switch {
	case errors.As(err, &verr):
		resp.Message = "Validation failed"
		resp.Data = verr.Fields
	case errors.As(err, &rerr):
		resp.Data = rerr.data
	}

	if status == http.StatusInternalServerError {
		fields := []zap.Field{
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Any("headers", security.SanitizeHeaders(c.Request().Header)),
			zap.Error(err),
		}
		if errors.Is(err, services.ErrAncestorResolution) {
			log.Error("sponsor chain corrupted", fields...)
		} else {
			log.Error("request failed", fields...)
		}
		resp.Message = "Internal server error"
	}
	return c.JSON(status, resp)
}

func badRequest(message string, data interface{}) error {
	return &requestError{message: message, data: data}
}

// bindAndValidate decodes the body into req and runs the echo validator.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return badRequest("Invalid request body", err.Error())
	}
	if err := c.Validate(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[fe.Field()] = fe.Tag()
			}
			return badRequest("Validation failed", fields)
		}
		return badRequest("Validation failed", err.Error())
	}
	return nil
}

func ok(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, models.Response{
		Status:  status,
		Message: message,
		Data:    data,
	})
}
