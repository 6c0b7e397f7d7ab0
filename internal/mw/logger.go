package mw

import (
	"time"

	"github.com/gin-gonic/gin"

	"checkin-go/internal/scanner"
)

// RequestLogger logs one line per request.
func RequestLogger(logger scanner.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"client", c.ClientIP(),
			"elapsed", time.Since(start),
		}
		if len(c.Errors) > 0 {
			args = append(args, "error", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("api request", args...)
		case c.Writer.Status() >= 400:
			logger.Warn("api request", args...)
		default:
			logger.Debug("api request", args...)
		}
	}
}
