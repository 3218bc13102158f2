package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tutorcall-backend/internal/database"
	"tutorcall-backend/internal/domain"
)

// StatsCache memoizes per-user call statistics as JSON with a TTL
type StatsCache struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewStatsCache creates a statistics cache
func NewStatsCache(client *database.RedisClient, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

func statsKey(userID uuid.UUID) string {
	return fmt.Sprintf("calls:stats:%s", userID)
}

// Get returns (nil, false, nil) on a miss
func (c *StatsCache) Get(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, bool, error) {
	data, err := c.client.SafeGet(ctx, statsKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached statistics: %w", err)
	}

	var stats domain.CallStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached statistics: %w", err)
	}
	return &stats, true, nil
}

// Set stores stats for the configured TTL
func (c *StatsCache) Set(ctx context.Context, userID uuid.UUID, stats *domain.CallStatistics) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}
	if err := c.client.SafeSet(ctx, statsKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache statistics: %w", err)
	}
	return nil
}

// Invalidate drops the user's cached statistics
func (c *StatsCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.SafeDel(ctx, statsKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate statistics: %w", err)
	}
	return nil
}
