package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutorcall-backend/internal/domain"
)

func TestMemoryCache_TTL(t *testing.T) {
	mc := NewMemoryCache(time.Minute, 0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	mc.Set("k", "v", 0)
	v, ok := mc.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, ok = mc.Get("k")
	assert.False(t, ok)
	assert.Zero(t, mc.Size())
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	mc := NewMemoryCache(time.Minute, 2)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	mc.Set("a", 1, 0)
	now = now.Add(time.Second)
	mc.Set("b", 2, 0)
	now = now.Add(time.Second)
	mc.Set("c", 3, 0)

	assert.Equal(t, 2, mc.Size())
	_, ok := mc.Get("a")
	assert.False(t, ok)

	// overwriting an existing key does not evict
	mc.Set("b", 20, 0)
	assert.Equal(t, 2, mc.Size())
}

func TestMemoryCache_CleanupExpired(t *testing.T) {
	mc := NewMemoryCache(time.Minute, 0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	mc.Set("a", 1, time.Second)
	mc.Set("b", 2, time.Hour)
	now = now.Add(time.Minute)

	assert.Equal(t, 1, mc.cleanupExpired())
	assert.Equal(t, 1, mc.Size())
}

func TestStatsCache_RoundTrip(t *testing.T) {
	c := NewStatsCache(time.Minute, 10)
	ctx := context.Background()
	user := uuid.New()

	_, ok, err := c.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := &domain.CallStatistics{TotalCalls: 3}
	require.NoError(t, c.Set(ctx, user, stats))
	stats.TotalCalls = 99

	got, ok, err := c.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.TotalCalls)

	require.NoError(t, c.Invalidate(ctx, user))
	_, ok, _ = c.Get(ctx, user)
	assert.False(t, ok)
}

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Get(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, bool, error) {
	args := m.Called(ctx, userID)
	stats, _ := args.Get(0).(*domain.CallStatistics)
	return stats, args.Bool(1), args.Error(2)
}

func (m *MockBackend) Set(ctx context.Context, userID uuid.UUID, stats *domain.CallStatistics) error {
	return m.Called(ctx, userID, stats).Error(0)
}

func (m *MockBackend) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func TestFallbackStatsCache_PrimaryHealthy(t *testing.T) {
	primary := new(MockBackend)
	ctx := context.Background()
	user := uuid.New()
	stats := &domain.CallStatistics{TotalCalls: 2}

	c := NewFallbackStatsCache(primary, NewStatsCache(time.Minute, 10), func() bool { return false }, nil)

	primary.On("Set", ctx, user, stats).Return(nil)
	primary.On("Get", ctx, user).Return(stats, true, nil)
	primary.On("Invalidate", ctx, user).Return(nil)

	require.NoError(t, c.Set(ctx, user, stats))
	got, ok, err := c.Get(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got.TotalCalls)
	require.NoError(t, c.Invalidate(ctx, user))

	primary.AssertExpectations(t)
}

func TestFallbackStatsCache_PrimaryErrorFallsBack(t *testing.T) {
	primary := new(MockBackend)
	ctx := context.Background()
	user := uuid.New()
	memory := NewStatsCache(time.Minute, 10)
	require.NoError(t, memory.Set(ctx, user, &domain.CallStatistics{TotalCalls: 5}))

	c := NewFallbackStatsCache(primary, memory, func() bool { return false }, nil)
	primary.On("Get", ctx, user).Return(nil, false, errors.New("connection refused"))

	got, ok, err := c.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, got.TotalCalls)
}

func TestFallbackStatsCache_DegradedSkipsPrimary(t *testing.T) {
	primary := new(MockBackend)
	ctx := context.Background()
	user := uuid.New()

	c := NewFallbackStatsCache(primary, NewStatsCache(time.Minute, 10), func() bool { return true }, nil)

	require.NoError(t, c.Set(ctx, user, &domain.CallStatistics{TotalCalls: 1}))
	got, ok, err := c.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.TotalCalls)
	require.NoError(t, c.Invalidate(ctx, user))

	primary.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	primary.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
	primary.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
}
