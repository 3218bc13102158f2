// Package bootstrap wires configuration into the stores, caches and
// collaborators shared by the call service and the call worker.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	intDatabase "tutorcall-backend/internal/database"
	"tutorcall-backend/internal/notify"
	"tutorcall-backend/internal/repository/cockroach"
	"tutorcall-backend/internal/repository/memory"
	redisRepo "tutorcall-backend/internal/repository/redis"
	"tutorcall-backend/internal/service/video"
	"tutorcall-backend/pkg/cache"
	"tutorcall-backend/pkg/config"
	"tutorcall-backend/pkg/constants"
	pkgDatabase "tutorcall-backend/pkg/database"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
	"tutorcall-backend/pkg/push"
	"tutorcall-backend/pkg/resilience"
)

const (
	dbConnectAttempts  = 5
	dbConnectBaseDelay = 1 * time.Second
	dbConnectMaxDelay  = 30 * time.Second

	memoryStatsMaxEntries = 10000
	cacheCleanupInterval  = time.Minute
)

// Components holds everything built from one Config. DB is nil with the
// memory store and Redis is nil when REDIS_HOST is empty.
type Components struct {
	Config  *config.Config
	Metrics *metrics.Metrics

	DB    *pkgDatabase.CockroachDB
	Redis *intDatabase.RedisClient

	Calls        video.CallStore
	Users        video.UserDirectory
	Reservations video.ReservationLookup
	StatsCache   video.StatsCache

	PushTokens push.TokenRepository
	Push       *push.Service

	Publisher *redisRepo.EventPublisher
	Presence  *redisRepo.PresenceRepository

	closers []func()
}

// New opens the configured stores. Redis failures leave the client in
// degraded mode rather than failing startup.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Components, error) {
	c := &Components{Config: cfg, Metrics: m}

	if err := c.openCallStore(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.openRedis(ctx)
	c.buildStatsCache()

	if err := c.buildPush(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases connections and stops background loops in reverse order
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// NewCallService builds the lifecycle service. With Redis, events go out
// over pub/sub and presence comes from Redis. Without it, local receives
// events and answers presence queries; local may be nil.
func (c *Components) NewCallService(local interface {
	notify.Notifier
	video.PresenceChecker
}) *video.Service {
	breaker := resilience.NewBreaker("push", resilience.DefaultBreakerConfig(), c.Metrics)
	notifiers := []notify.Notifier{notify.NewPushNotifier(c.Push, breaker, c.Metrics)}

	var presence video.PresenceChecker
	switch {
	case c.Redis != nil:
		notifiers = append(notifiers, notify.NewPubSubNotifier(c.Publisher))
		presence = c.Presence
	case local != nil:
		notifiers = append(notifiers, local)
		presence = local
	}

	return video.NewService(
		c.Calls,
		c.Users,
		notify.NewFanout(notifiers...),
		c.StatsCache,
		c.Reservations,
		presence,
		c.Metrics,
	)
}

func (c *Components) openCallStore(ctx context.Context) error {
	cfg := c.Config

	if cfg.Call.Store == config.StoreMemory {
		calls := memory.NewCallRepository()
		users := memory.NewUserRepository()
		if cfg.Call.SeedUsersFile != "" {
			seed, err := memory.LoadUsers(cfg.Call.SeedUsersFile)
			if err != nil {
				return err
			}
			for _, u := range seed {
				users.Add(u)
				if !u.AvailableForCalls {
					_ = calls.SetAvailability(ctx, u.UserID, false)
				}
			}
			logger.Info("Seeded memory user directory", zap.Int("users", len(seed)))
		}
		c.Calls, c.Users = calls, users
		logger.Warn("Using in-memory call store; state is lost on restart")
		return nil
	}

	db, err := pkgDatabase.ConnectWithRetry(ctx, &pkgDatabase.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	}, dbConnectAttempts, dbConnectBaseDelay, dbConnectMaxDelay)
	if err != nil {
		return fmt.Errorf("cockroach: %w", err)
	}
	c.closers = append(c.closers, db.Close)

	c.DB = db
	c.Calls = cockroach.NewCallRepository(db.Pool)
	c.Users = cockroach.NewUserRepository(db.Pool)
	c.Reservations = cockroach.NewReservationRepository(db.Pool)
	return nil
}

func (c *Components) openRedis(ctx context.Context) {
	cfg := c.Config.Redis
	if cfg.Host == "" {
		logger.Info("REDIS_HOST empty, running without Redis")
		return
	}

	client := intDatabase.NewRedisDB(&intDatabase.RedisConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		Timeout:  cfg.Timeout,
	}, c.Metrics)

	if err := client.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unreachable at startup, starting degraded", zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("host", cfg.Host))
	}

	hcCtx, cancel := context.WithCancel(context.Background())
	client.StartHealthCheck(hcCtx, constants.RedisHealthCheckInterval)
	c.closers = append(c.closers, func() {
		cancel()
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	})

	c.Redis = client
	c.Publisher = redisRepo.NewEventPublisher(client)
	c.Presence = redisRepo.NewPresenceRepository(client)
}

func (c *Components) buildStatsCache() {
	mem := cache.NewStatsCache(c.Config.Call.StatsCacheTTL, memoryStatsMaxEntries)
	c.closers = append(c.closers, mem.StartCleanup(cacheCleanupInterval))

	if c.Redis == nil {
		c.StatsCache = mem
		return
	}
	c.StatsCache = cache.NewFallbackStatsCache(
		redisRepo.NewStatsCache(c.Redis, c.Config.Call.StatsCacheTTL),
		mem,
		c.Redis.IsDegraded,
		c.Metrics,
	)
}

func (c *Components) buildPush(ctx context.Context) error {
	cfg := c.Config.Push

	provider, err := push.NewProvider(ctx, &push.Config{
		Provider: push.ProviderType(cfg.Provider),
		FCM: push.FCMConfig{
			CredentialsPath: cfg.FCMCredentialsPath,
			ProjectID:       cfg.FCMProjectID,
		},
		APNs: push.APNsConfig{
			CertificatePath:     cfg.APNsCertificatePath,
			CertificatePassword: cfg.APNsCertificatePass,
			KeyPath:             cfg.APNsKeyPath,
			KeyID:               cfg.APNsKeyID,
			TeamID:              cfg.APNsTeamID,
			BundleID:            cfg.APNsBundleID,
			Production:          cfg.APNsProduction,
		},
	})
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	if c.Redis != nil {
		c.PushTokens = redisRepo.NewPushTokenRepository(c.Redis.Client)
	} else {
		c.PushTokens = memory.NewPushTokenRepository()
	}
	c.Push = push.NewService(provider, c.PushTokens)
	return nil
}
