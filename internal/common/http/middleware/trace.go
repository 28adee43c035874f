package middleware

import (
	"context"
	"strings"

	"codejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
	UserIDHeader    = "X-User-Id"
)

// TraceContextMiddleware puts trace, request and user ids into both the gin and
// request contexts and echoes them back as response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		traceID := headerOrNew(c, TraceIDHeader)
		c.Set(contextkey.TraceID.String(), traceID)
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
		c.Writer.Header().Set(TraceIDHeader, traceID)

		requestID := headerOrNew(c, RequestIDHeader)
		c.Set(contextkey.RequestID.String(), requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		// The user id is asserted by the upstream gateway.
		if userID := strings.TrimSpace(c.GetHeader(UserIDHeader)); userID != "" {
			c.Set(contextkey.UserID.String(), userID)
			ctx = context.WithValue(ctx, contextkey.UserID, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the caller id placed by TraceContextMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(contextkey.UserID.String())
}

func headerOrNew(c *gin.Context, name string) string {
	if v := strings.TrimSpace(c.GetHeader(name)); v != "" {
		return v
	}
	return uuid.NewString()
}
