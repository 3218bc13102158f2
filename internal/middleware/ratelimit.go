package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tutorcall-backend/internal/database"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
	"tutorcall-backend/pkg/response"
)

// maxFallbackKeys caps the in-process limiter table
const maxFallbackKeys = 10000

// RateLimiter enforces a fixed-window limit per user (or per IP before
// auth) in Redis. While Redis is degraded or unreachable it falls back to
// a per-process token bucket with the same average rate.
type RateLimiter struct {
	redis    *database.RedisClient
	name     string
	requests int
	window   time.Duration
	fallback *limiterStore
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing requests per window. name
// scopes the Redis keys and the metric label. client and m may be nil.
func NewRateLimiter(client *database.RedisClient, name string, requests int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		redis:    client,
		name:     name,
		requests: requests,
		window:   window,
		fallback: newLimiterStore(rate.Every(window/time.Duration(requests)), requests),
		metrics:  m,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := fmt.Sprintf("ip:%s", c.ClientIP())
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		allowed, remaining, resetAt, backend := rl.check(c.Request.Context(), identifier)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlocked(rl.name, backend)
			}
			response.TooManyRequests(c, "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, identifier string) (allowed bool, remaining int, resetAt int64, backend string) {
	if rl.redis != nil && !rl.redis.IsDegraded() {
		allowed, remaining, resetAt, err := rl.checkRedis(ctx, identifier)
		if err == nil {
			return allowed, remaining, resetAt, "redis"
		}
		logger.FromContext(ctx).Warn("Redis rate limit check failed, using in-process limiter",
			zap.String("limiter", rl.name),
			zap.Error(err))
	}

	allowed, remaining = rl.fallback.allow(identifier)
	return allowed, remaining, rl.now().Add(rl.window).Unix(), "memory"
}

// checkRedis counts the request in the current window
func (rl *RateLimiter) checkRedis(ctx context.Context, identifier string) (bool, int, int64, error) {
	windowSecs := int64(rl.window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	slot := rl.now().Unix() / windowSecs
	key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.name, identifier, slot)

	pipe := rl.redis.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	count := int(incr.Val())
	remaining := rl.requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.requests, remaining, (slot + 1) * windowSecs, nil
}

// limiterStore stores per-key rate limiters
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newLimiterStore(r rate.Limit, burst int) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (s *limiterStore) allow(key string) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		if len(s.limiters) >= maxFallbackKeys {
			s.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(s.rate, s.burst)
		s.limiters[key] = limiter
	}

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}
