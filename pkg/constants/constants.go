// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// RedisHealthCheckInterval is how often Redis is pinged to leave or enter degraded mode
	RedisHealthCheckInterval = 10 * time.Second
)

// WebSocket constants
const (
	// WebSocketWriteWait is the time allowed to write a message to the peer
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong from the peer
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = 54 * time.Second

	// WebSocketSendBuffer is the per-client outbound queue size
	WebSocketSendBuffer = 32
)

// Presence and push constants
const (
	// PresenceTTL expires a user's online flag when heartbeats stop
	PresenceTTL = 5 * time.Minute

	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Call-related constants
const (
	// DefaultRingTimeout is how long an initiated call rings before it is marked missed
	DefaultRingTimeout = 45 * time.Second

	// DefaultStatsCacheTTL bounds how stale cached statistics can get
	DefaultStatsCacheTTL = 5 * time.Minute
)
