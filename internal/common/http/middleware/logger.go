package middleware

import (
	"net/http"
	"slices"
	"time"

	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger writes one access line per request. Server errors log at
// error, client errors at warn. Requests to quiet routes such as probes and
// the metrics endpoint are not logged.
func RequestLogger(quiet ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if slices.Contains(quiet, route) {
			return
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", max(c.Writer.Size(), 0)),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error(ctx, "request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn(ctx, "request", fields...)
		default:
			logger.Info(ctx, "request", fields...)
		}
	}
}

// Recovery logs a handler panic and answers 500.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error(c.Request.Context(), "handler panic",
			zap.Any("panic", recovered),
			zap.String("route", c.FullPath()),
			zap.Stack("stack"),
		)
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
