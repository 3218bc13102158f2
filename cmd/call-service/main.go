package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tutorcall-backend/internal/bootstrap"
	wsHandler "tutorcall-backend/internal/handler/ws"
	"tutorcall-backend/internal/worker"
	"tutorcall-backend/pkg/config"
	"tutorcall-backend/pkg/constants"
	"tutorcall-backend/pkg/jwt"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("Call service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	components, err := bootstrap.New(ctx, cfg, appMetrics)
	if err != nil {
		return err
	}
	defer components.Close()

	// With Redis the hub follows each user's channel, so events raised on
	// any instance reach local sockets.
	var subscriber wsHandler.Subscriber
	var presence wsHandler.Presence
	if components.Redis != nil {
		subscriber = components.Publisher
		presence = components.Presence
	}
	hub := wsHandler.NewEventHub(wsHandler.HubConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxConnections: cfg.Server.MaxWSConnections,
	}, subscriber, presence, appMetrics)
	defer hub.Close()

	calls := components.NewCallService(hub)

	// A memory store lives in this process only, so nobody else can sweep it
	if cfg.Call.Store == config.StoreMemory {
		sweeper, err := worker.NewSweeper(calls, cfg.Call.SweepSchedule, cfg.Call.RingTimeout)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
	}

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	router := newRouter(components, calls, hub, jwtManager)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Call.Store),
			zap.Bool("redis", components.Redis != nil),
			zap.String("push_provider", cfg.Push.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down call service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked WebSocket connections; the
	// deferred hub.Close drops them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
