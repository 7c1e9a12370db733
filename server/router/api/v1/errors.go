package v1

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/internal/observability"
)

// statusClientClosedRequest is returned when the caller went away before the response.
const statusClientClosedRequest = 499

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func httpStatus(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidTransition, apperrors.ErrCodeCancelled:
		return http.StatusConflict
	case apperrors.ErrCodeBackend:
		return http.StatusBadGateway
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stderrors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

func errorResponse(err error) ErrorResponse {
	var e *apperrors.Error
	if stderrors.As(err, &e) {
		return ErrorResponse{Code: string(e.Code), Message: e.Error(), Context: e.Context}
	}
	return ErrorResponse{Code: "INTERNAL", Message: err.Error()}
}

// writeError renders err as JSON with the status matching its code.
func writeError(c echo.Context, err error) error {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		observability.Logger(c.Request().Context()).Error("request error", "error", err)
	}
	return c.JSON(status, errorResponse(err))
}

func badRequest(c echo.Context, msg string) error {
	return writeError(c, apperrors.Validation(msg))
}
