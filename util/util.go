package util

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinContextKey is the key the gin context is stored under on request contexts.
const GinContextKey = "util.GinContext"

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse is the JSON body returned when there is nothing else to say.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrResponse writes err as an ErrorResponse with the given status.
func ErrResponse(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// HealthCheckHandler answers liveness probes.
func HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, SuccessResponse{Success: true})
	}
}

// GinContextFromContext returns the gin context stored on ctx by the
// GinContextToContext middleware.
func GinContextFromContext(ctx context.Context) (*gin.Context, error) {
	if gc, ok := ctx.(*gin.Context); ok {
		return gc, nil
	}
	gc, ok := ctx.Value(GinContextKey).(*gin.Context)
	if !ok {
		return nil, errors.New("could not retrieve gin.Context")
	}
	return gc, nil
}
