package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/pkg/constants"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
	"tutorcall-backend/pkg/response"
)

const (
	defaultMaxConnections = 1000
	maxInboundMessageSize = 512
	presenceTimeout       = 2 * time.Second

	defaultSubscribeRetry = 500 * time.Millisecond
	maxSubscribeRetry     = 30 * time.Second
)

var errSubscriptionClosed = errors.New("subscription channel closed")

// Subscriber opens the pub/sub stream of one user's call events
type Subscriber interface {
	Subscribe(ctx context.Context, userID uuid.UUID) (*redis.PubSub, error)
}

// Presence records which users hold a live event stream
type Presence interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// HubConfig configures the event hub
type HubConfig struct {
	// AllowedOrigins is matched against browser Origin headers. Clients
	// sending no Origin (native apps) are accepted.
	AllowedOrigins []string
	MaxConnections int
}

// EventHub streams call events to connected users over WebSocket.
//
// With a Subscriber each first connection of a user opens a Redis
// subscription on that user's channel, so events published by any
// instance reach it. Without one the hub is itself the Notifier and only
// delivers events raised on this instance.
type EventHub struct {
	mu                  sync.RWMutex
	clients             map[uuid.UUID]map[*EventClient]struct{}
	subscriptionCancels map[uuid.UUID]context.CancelFunc
	total               int

	subscriber Subscriber
	presence   Presence
	metrics    *metrics.Metrics

	upgrader       websocket.Upgrader
	maxConnections int
	semaphore      chan struct{}
	subscribeRetry time.Duration
}

// EventClient is one WebSocket connection of a user
type EventClient struct {
	hub    *EventHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
}

// NewEventHub creates a new event hub. subscriber, presence and m may be nil.
func NewEventHub(cfg HubConfig, subscriber Subscriber, presence Presence, m *metrics.Metrics) *EventHub {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}

	return &EventHub{
		clients:             make(map[uuid.UUID]map[*EventClient]struct{}),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		subscriber:          subscriber,
		presence:            presence,
		metrics:             m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
		subscribeRetry: defaultSubscribeRetry,
	}
}

// Notify delivers the event to the user's connections on this instance.
// A user with no connection is not an error.
func (h *EventHub) Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	h.deliver(userID, data)
	return nil
}

// IsUserOnline reports whether the user has a connection on this instance
func (h *EventHub) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0, nil
}

// ConnectionCount returns the number of open connections of a user
func (h *EventHub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close drops every connection and subscription
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// ServeWS upgrades the request into the caller's event stream
// GET /v1/video-call/events
func (h *EventHub) ServeWS(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Server at capacity, please try again later")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.FromContext(c.Request.Context()).Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &EventClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, constants.WebSocketSendBuffer),
		userID: userID,
	}
	h.register(client)
	h.updatePresence(userID, "online")

	go client.writePump()
	go client.readPump()
}

func (h *EventHub) register(client *EventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.userID]
	if clients == nil {
		clients = make(map[*EventClient]struct{})
		h.clients[client.userID] = clients

		if h.subscriber != nil {
			ctx, cancel := context.WithCancel(context.Background())
			h.subscriptionCancels[client.userID] = cancel
			go h.subscribeToUser(ctx, client.userID)
		}
	}
	clients[client] = struct{}{}
	h.total++
	h.recordConnections()
}

// unregister reports whether client was the user's last connection
func (h *EventHub) unregister(client *EventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(client)
}

// removeLocked closes client's queue and drops the user's subscription
// with the last connection. Callers hold h.mu.
func (h *EventHub) removeLocked(client *EventClient) bool {
	clients, ok := h.clients[client.userID]
	if !ok {
		return false
	}
	if _, exists := clients[client]; !exists {
		return false
	}

	delete(clients, client)
	close(client.send)
	h.total--
	h.recordConnections()

	if len(clients) > 0 {
		return false
	}
	if cancel, ok := h.subscriptionCancels[client.userID]; ok {
		cancel()
		delete(h.subscriptionCancels, client.userID)
	}
	delete(h.clients, client.userID)
	return true
}

// deliver queues data on every connection of the user. A connection whose
// queue is full is dropped.
func (h *EventHub) deliver(userID uuid.UUID, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- data:
		default:
			logger.Warn("Dropping slow WebSocket client",
				zap.String("user_id", userID.String()))
			h.removeLocked(client)
		}
	}
}

// subscribeToUser forwards the user's Redis channel to local connections.
// A failed or dropped subscription is reopened with backoff until ctx ends.
func (h *EventHub) subscribeToUser(ctx context.Context, userID uuid.UUID) {
	delay := h.subscribeRetry
	for {
		err := h.forward(ctx, userID)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Call event subscription failed, retrying",
			zap.String("user_id", userID.String()),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxSubscribeRetry {
			delay = maxSubscribeRetry
		}
	}
}

// forward relays one subscription until it fails or ctx ends
func (h *EventHub) forward(ctx context.Context, userID uuid.UUID) error {
	pubsub, err := h.subscriber.Subscribe(ctx, userID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("receive: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errSubscriptionClosed
			}
			h.deliver(userID, []byte(msg.Payload))
		}
	}
}

func (h *EventHub) updatePresence(userID uuid.UUID, state string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	switch state {
	case "online":
		err = h.presence.SetUserOnline(ctx, userID)
	case "offline":
		err = h.presence.SetUserOffline(ctx, userID)
	default:
		err = h.presence.RefreshPresence(ctx, userID)
	}
	if err != nil {
		logger.Debug("Presence update failed",
			zap.String("user_id", userID.String()),
			zap.String("state", state),
			zap.Error(err))
	}
}

func (h *EventHub) recordConnections() {
	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(h.total)
	}
}

// readPump only consumes control frames; the stream is one-way
func (c *EventClient) readPump() {
	defer func() {
		if c.hub.unregister(c) {
			c.hub.updatePresence(c.userID, "offline")
		}
		c.conn.Close()
		<-c.hub.semaphore
	}()

	c.conn.SetReadLimit(maxInboundMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		c.hub.updatePresence(c.userID, "refresh")
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump writes messages to WebSocket
func (c *EventClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			if c.hub.metrics != nil {
				c.hub.metrics.RecordWebSocketMessage("call_event", "outbound")
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
