// Package requestid assigns each request a correlation id, honoring one
// supplied by the caller.
package requestid

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header is the request/response header carrying the request id.
const Header = "X-Request-ID"

// contextKey matches what the logger and controller packages read from the
// request context.
const contextKey = "request_id"

// Middleware extracts or generates the request id, stores it on the
// request context, and echoes it on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), contextKey, id) //nolint:staticcheck // key shared with logger by contract
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(Header, id)

		c.Next()
	}
}

// FromContext returns the request id, or "".
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey).(string); ok {
		return id
	}
	return ""
}
