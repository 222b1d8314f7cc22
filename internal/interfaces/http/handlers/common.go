package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/ConceptGuard/internal/interfaces/http/middleware"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeAppError maps an error to its HTTP status. Server-side failures are
// reported with the code's default message so internals do not leak.
func writeAppError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeTimeout
	case code == errors.CodeUnknown || code == errors.CodeOK:
		code = errors.ErrCodeInternal
	}

	status := errors.HTTPStatusForCode(code)
	message := errors.DefaultMessageForCode(code)
	var appErr *errors.AppError
	if status < http.StatusInternalServerError && errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      code.String(),
		Message:   message,
		RequestID: middleware.GetRequestID(c),
	})
}

// bindJSON decodes the body into dst, answering 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			writeAppError(c, errors.Newf(errors.ErrCodeBatchTooLarge, "request body exceeds %d bytes", maxErr.Limit))
			return false
		}
		writeAppError(c, errors.Wrap(err, errors.ErrCodeInvalidRequest, "malformed request body"))
		return false
	}
	return true
}
