// Package logging provides structured request logging middleware.
package logging

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eventinspect/eventinspect/pkg/observability/logger"
)

// Middleware logs one structured line per completed request. Long-lived
// stream requests log on disconnect, which is the interesting moment for
// them anyway.
func Middleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithContext(c.Request.Context()).Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
