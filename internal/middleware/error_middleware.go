package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yigit/clubchat/internal/app/models/dto"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
)

// --- Central Error Handling ---

// errorMapping pairs a sentinel with its HTTP status and error code.
// Order matters: the first match wins.
var errorMapping = []struct {
	target error
	status int
	code   dto.ErrorCode
}{
	{apperrors.ErrInvalidPayload, http.StatusBadRequest, dto.ErrorCodeInvalidPayload},
	{apperrors.ErrInvalidPoll, http.StatusBadRequest, dto.ErrorCodeInvalidPoll},
	{apperrors.ErrInvalidOption, http.StatusUnprocessableEntity, dto.ErrorCodeInvalidOption},
	{apperrors.ErrPollExpired, http.StatusGone, dto.ErrorCodePollExpired},
	{apperrors.ErrPermissionDenied, http.StatusForbidden, dto.ErrorCodeForbidden},
	{apperrors.ErrResourceNotFound, http.StatusNotFound, dto.ErrorCodeResourceNotFound},
	{apperrors.ErrConflict, http.StatusConflict, dto.ErrorCodeConflict},
	{apperrors.ErrTokenExpired, http.StatusUnauthorized, dto.ErrorCodeExpiredToken},
	{apperrors.ErrTokenInvalid, http.StatusUnauthorized, dto.ErrorCodeInvalidToken},
	{apperrors.ErrInvalidFormat, http.StatusUnauthorized, dto.ErrorCodeInvalidToken},
	{apperrors.ErrStorageFailure, http.StatusInternalServerError, dto.ErrorCodeStorageError},
}

// ErrorStatus resolves the HTTP status and error code of err
func ErrorStatus(err error) (int, dto.ErrorCode) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, dto.ErrorCodeInternalServer
}

// HandleAPIError writes the error response for err. Messages of typed
// errors are shown to the caller; anything else is logged and hidden.
func HandleAPIError(c *gin.Context, err error) {
	status, code := ErrorStatus(err)

	var detail *dto.ErrorDetail
	var custom *apperrors.CustomError
	switch {
	case status >= http.StatusInternalServerError:
		log.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
		detail = dto.NewErrorDetail(code, "Internal server error").WithSeverity(dto.ErrorSeverityCritical)
	case errors.As(err, &custom):
		detail = dto.NewErrorDetail(code, custom.Error())
		if len(custom.Details) > 0 {
			detail.WithDetails(custom.Details)
		}
	default:
		detail = dto.NewErrorDetail(code, err.Error())
	}

	c.AbortWithStatusJSON(status, dto.NewErrorResponse(detail))
}
