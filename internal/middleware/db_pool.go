package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/response"
)

// PoolStats is the part of *pgxpool.Stat the guard reads
type PoolStats interface {
	AcquiredConns() int32
	MaxConns() int32
}

// DBPoolGuard sheds load with 503 once the share of acquired connections
// reaches threshold, so requests fail fast instead of queueing on the pool.
func DBPoolGuard(stats func() PoolStats, threshold float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := stats()
		if s == nil || s.MaxConns() == 0 {
			c.Next()
			return
		}

		usage := float64(s.AcquiredConns()) / float64(s.MaxConns())
		if usage >= threshold {
			logger.FromContext(c.Request.Context()).Warn("Database connection pool saturated",
				zap.Int32("max_conns", s.MaxConns()),
				zap.Int32("acquired_conns", s.AcquiredConns()),
				zap.Float64("pool_usage", usage))

			response.Error(c, http.StatusServiceUnavailable, "DB_POOL_EXHAUSTED", "Service temporarily unavailable")
			c.Abort()
			return
		}

		c.Next()
	}
}
