// Package recovery converts handler panics into 500 responses.
package recovery

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/eventinspect/eventinspect/pkg/controller"
	"github.com/eventinspect/eventinspect/pkg/observability/logger"
)

// Middleware recovers panics, logs the stack, and answers with the
// standard internal error body when the response has not started yet.
func Middleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithContext(c.Request.Context()).Error("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				if !c.Writer.Written() {
					status, body := controller.MapError(c.Request.Context(),
						controller.NewInternalError("an unexpected error occurred", nil))
					c.AbortWithStatusJSON(status, body)
				} else {
					c.AbortWithStatus(http.StatusInternalServerError)
				}
			}
		}()
		c.Next()
	}
}
