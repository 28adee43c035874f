// Package response writes the JSON envelope every judge endpoint returns.
package response

import (
	"net/http"

	"codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope. Code is errors.Success on the happy path.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    any              `json:"data,omitempty"`
	Details map[string]any   `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// Page is the data payload of list endpoints.
type Page struct {
	Items    any   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	HasMore  bool  `json:"has_more"`
}

func Success(c *gin.Context, data any) {
	write(c, http.StatusOK, Response{Code: errors.Success, Message: "Success", Data: data})
}

// Accepted answers 202 for work admitted but not finished yet.
func Accepted(c *gin.Context, data any) {
	write(c, http.StatusAccepted, Response{Code: errors.Success, Message: "Accepted", Data: data})
}

func Paged(c *gin.Context, page Page) {
	Success(c, page)
}

// Error maps err onto its code's HTTP status. Server side failures log at
// error level with the captured stack, client mistakes at warn.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()
	fields := []zap.Field{zap.Int("code", int(e.Code)), zap.String("message", e.Error())}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", append(fields, zap.String("stack", e.Stack))...)
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}
	write(c, status, Response{Code: e.Code, Message: e.Error(), Details: e.Details})
}

// BadRequest answers 400 with the given message.
func BadRequest(c *gin.Context, message string) {
	Error(c, errors.New(errors.InvalidParams).WithMessage(message))
}

func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func write(c *gin.Context, status int, resp Response) {
	resp.TraceID = c.GetString(contextkey.TraceID.String())
	c.JSON(status, resp)
}
