package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutorcall-backend/internal/bootstrap"
	pushHandler "tutorcall-backend/internal/handler/http/push"
	videoHandler "tutorcall-backend/internal/handler/http/video"
	wsHandler "tutorcall-backend/internal/handler/ws"
	"tutorcall-backend/internal/middleware"
	"tutorcall-backend/internal/service/video"
	"tutorcall-backend/pkg/jwt"
	"tutorcall-backend/pkg/logger"
)

const dbPoolThreshold = 0.9

// Per-user request budgets per minute
const (
	lifecycleRequestsPerMinute = 10
	mediaRequestsPerMinute     = 30
	readRequestsPerMinute      = 60
)

func newRouter(c *bootstrap.Components, calls *video.Service, hub *wsHandler.EventHub, jwtManager *jwt.JWTManager) *gin.Engine {
	cfg := c.Config
	m := c.Metrics

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Warn("Invalid TRUSTED_PROXIES, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(m).Handler())
	router.Use(middleware.HealthCheck(cfg.Server.ServiceName))

	router.GET("/metrics", middleware.MetricsHandler(m))

	var revocation middleware.RevocationChecker
	if c.Redis != nil {
		revocation = middleware.NewRedisRevocationChecker(c.Redis)
	}
	auth := middleware.AuthMiddleware(jwtManager, revocation)

	// REST routes run under the request timeout and the pool guard. The
	// event stream is long-lived and gets neither.
	rest := []gin.HandlerFunc{middleware.NewTimeoutMiddleware(cfg.Server.RequestTimeout, m).Middleware()}
	if c.DB != nil {
		db := c.DB
		rest = append(rest, middleware.DBPoolGuard(func() middleware.PoolStats { return db.Stats() }, dbPoolThreshold))
	}

	limit := func(name string, perMinute int) gin.HandlerFunc {
		return middleware.NewRateLimiter(c.Redis, name, perMinute, time.Minute, m).Middleware()
	}

	callGroup := router.Group("/v1/video-call", auth)
	callGroup.GET("/events", hub.ServeWS)
	videoHandler.NewHandler(calls).RegisterRoutes(callGroup.Group("", rest...), videoHandler.RouteLimits{
		Lifecycle: limit("call_lifecycle", lifecycleRequestsPerMinute),
		Media:     limit("call_media", mediaRequestsPerMinute),
		Read:      limit("call_read", readRequestsPerMinute),
	})

	pushGroup := router.Group("/v1/push", auth)
	pushGroup.Use(rest...)
	pushGroup.Use(limit("push_tokens", readRequestsPerMinute))
	pushHandler.NewHandler(c.Push).RegisterRoutes(pushGroup)

	return router
}
