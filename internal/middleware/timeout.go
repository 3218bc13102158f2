package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutorcall-backend/pkg/constants"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
	"tutorcall-backend/pkg/response"
)

// TimeoutMiddleware bounds how long a request's context stays live.
// Never mount it on the WebSocket route.
type TimeoutMiddleware struct {
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewTimeoutMiddleware creates a new timeout middleware. A zero timeout
// uses constants.DefaultTimeout; m may be nil.
func NewTimeoutMiddleware(timeout time.Duration, m *metrics.Metrics) *TimeoutMiddleware {
	if timeout <= 0 {
		timeout = constants.DefaultTimeout
	}
	return &TimeoutMiddleware{timeout: timeout, metrics: m}
}

// Middleware returns a Gin middleware for timeout protection
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), tm.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		startTime := time.Now()
		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}

		if tm.metrics != nil {
			tm.metrics.RecordRequestTimeout(c.Request.Method, c.FullPath())
		}
		logger.FromContext(ctx).Warn("Request timed out",
			zap.Duration("timeout", tm.timeout),
			zap.Duration("duration", time.Since(startTime)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path))

		if !c.Writer.Written() {
			response.Error(c, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timeout")
			c.Abort()
		}
	}
}
