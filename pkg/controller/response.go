package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SuccessResponse wraps successful JSON payloads in a consistent shape.
type SuccessResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id,omitempty"`
}

// Success sends a 200 response wrapping data.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c.Request.Context()),
	})
}

// Error sends the mapped error response and aborts the handler chain.
func Error(c *gin.Context, err error) {
	status, body := MapError(c.Request.Context(), err)
	c.AbortWithStatusJSON(status, body)
}
