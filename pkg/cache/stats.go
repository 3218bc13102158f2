package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
)

// StatsCache keeps call statistics in process memory
type StatsCache struct {
	cache *MemoryCache
}

// NewStatsCache creates an in-memory statistics cache
func NewStatsCache(ttl time.Duration, maxSize int) *StatsCache {
	return &StatsCache{cache: NewMemoryCache(ttl, maxSize)}
}

// StartCleanup periodically drops expired entries until the returned func is called
func (c *StatsCache) StartCleanup(interval time.Duration) func() {
	return c.cache.StartCleanup(interval)
}

func statsKey(userID uuid.UUID) string {
	return fmt.Sprintf("stats:%s", userID)
}

// Get never fails
func (c *StatsCache) Get(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, bool, error) {
	v, ok := c.cache.Get(statsKey(userID))
	if !ok {
		return nil, false, nil
	}
	stats := v.(domain.CallStatistics)
	return &stats, true, nil
}

// Set stores a copy of stats
func (c *StatsCache) Set(ctx context.Context, userID uuid.UUID, stats *domain.CallStatistics) error {
	c.cache.Set(statsKey(userID), *stats, 0)
	return nil
}

// Invalidate drops the user's entry
func (c *StatsCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	c.cache.Delete(statsKey(userID))
	return nil
}

// StatsBackend is any statistics cache, typically the Redis one
type StatsBackend interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, bool, error)
	Set(ctx context.Context, userID uuid.UUID, stats *domain.CallStatistics) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// FallbackStatsCache reads from the primary backend while it is healthy and
// from process memory while it is degraded. Writes and invalidations go to both.
type FallbackStatsCache struct {
	primary  StatsBackend
	memory   *StatsCache
	degraded func() bool
	metrics  *metrics.Metrics
}

// NewFallbackStatsCache wraps primary. degraded reports the primary's
// health; m may be nil.
func NewFallbackStatsCache(primary StatsBackend, memory *StatsCache, degraded func() bool, m *metrics.Metrics) *FallbackStatsCache {
	return &FallbackStatsCache{
		primary:  primary,
		memory:   memory,
		degraded: degraded,
		metrics:  m,
	}
}

func (c *FallbackStatsCache) usePrimary() bool {
	return c.degraded == nil || !c.degraded()
}

func (c *FallbackStatsCache) record(backend string, hit bool) {
	if c.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.metrics.RecordStatsCache(backend, result)
}

// Get tries the primary first and falls back to memory on error
func (c *FallbackStatsCache) Get(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, bool, error) {
	if c.usePrimary() {
		stats, ok, err := c.primary.Get(ctx, userID)
		if err == nil {
			c.record("redis", ok)
			return stats, ok, nil
		}
		logger.FromContext(ctx).Warn("Primary stats cache read failed, using memory",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	stats, ok, _ := c.memory.Get(ctx, userID)
	c.record("memory", ok)
	return stats, ok, nil
}

// Set writes to memory always and to the primary when healthy
func (c *FallbackStatsCache) Set(ctx context.Context, userID uuid.UUID, stats *domain.CallStatistics) error {
	_ = c.memory.Set(ctx, userID, stats)
	if !c.usePrimary() {
		return nil
	}
	return c.primary.Set(ctx, userID, stats)
}

// Invalidate drops both copies. Only the primary can fail.
func (c *FallbackStatsCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	_ = c.memory.Invalidate(ctx, userID)
	if !c.usePrimary() {
		return nil
	}
	return c.primary.Invalidate(ctx, userID)
}
