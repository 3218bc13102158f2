package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorcall-backend/internal/domain"
)

type recordingPresence struct {
	mu     sync.Mutex
	online map[uuid.UUID]bool
}

func (p *recordingPresence) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *recordingPresence) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = false
	return nil
}

func (p *recordingPresence) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	return nil
}

func (p *recordingPresence) isOnline(userID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func newHubServer(t *testing.T, cfg HubConfig, presence Presence) (*EventHub, *httptest.Server) {
	t.Helper()
	hub := NewEventHub(cfg, nil, presence, nil)
	return hub, serveHub(t, hub)
}

func serveHub(t *testing.T, hub *EventHub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		if id, err := uuid.Parse(c.Query("user")); err == nil {
			c.Set("user_id", id)
		}
		c.Next()
	}, hub.ServeWS)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?user=" + userID.String()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestEventHub_DeliversToConnectedUser(t *testing.T) {
	presence := &recordingPresence{online: map[uuid.UUID]bool{}}
	hub, srv := newHubServer(t, HubConfig{}, presence)
	userID := uuid.New()

	conn, _, err := dial(t, srv, userID, "")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount(userID) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return presence.isOnline(userID) }, time.Second, 5*time.Millisecond)

	online, err := hub.IsUserOnline(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, online)

	event := &domain.CallEvent{Type: domain.EventIncoming, CallID: uuid.New(), ActorName: "Ayse"}
	require.NoError(t, hub.Notify(context.Background(), userID, event))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got domain.CallEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, event.CallID, got.CallID)
	assert.Equal(t, domain.EventIncoming, got.Type)
	assert.Equal(t, "Ayse", got.ActorName)
}

func TestEventHub_DisconnectMarksOffline(t *testing.T) {
	presence := &recordingPresence{online: map[uuid.UUID]bool{}}
	hub, srv := newHubServer(t, HubConfig{}, presence)
	userID := uuid.New()

	conn, _, err := dial(t, srv, userID, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return presence.isOnline(userID) }, time.Second, 5*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return hub.ConnectionCount(userID) == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !presence.isOnline(userID) }, time.Second, 5*time.Millisecond)
}

func TestEventHub_NotifyWithoutConnection(t *testing.T) {
	hub := NewEventHub(HubConfig{}, nil, nil, nil)

	err := hub.Notify(context.Background(), uuid.New(), &domain.CallEvent{Type: domain.EventEnded})
	assert.NoError(t, err)
}

func TestEventHub_RejectsForeignOrigin(t *testing.T) {
	_, srv := newHubServer(t, HubConfig{AllowedOrigins: []string{"https://app.example.com"}}, nil)

	conn, _, err := dial(t, srv, uuid.New(), "https://app.example.com")
	require.NoError(t, err)
	conn.Close()

	_, resp, err := dial(t, srv, uuid.New(), "https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEventHub_Capacity(t *testing.T) {
	_, srv := newHubServer(t, HubConfig{MaxConnections: 1}, nil)

	conn, _, err := dial(t, srv, uuid.New(), "")
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := dial(t, srv, uuid.New(), "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEventHub_Unauthenticated(t *testing.T) {
	_, srv := newHubServer(t, HubConfig{}, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type failingSubscriber struct {
	calls atomic.Int32
}

func (s *failingSubscriber) Subscribe(ctx context.Context, userID uuid.UUID) (*redis.PubSub, error) {
	s.calls.Add(1)
	return nil, errors.New("redis is degraded")
}

func TestEventHub_RetriesFailedSubscription(t *testing.T) {
	sub := &failingSubscriber{}
	hub := NewEventHub(HubConfig{}, sub, nil, nil)
	hub.subscribeRetry = 5 * time.Millisecond
	srv := serveHub(t, hub)
	userID := uuid.New()

	conn, _, err := dial(t, srv, userID, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sub.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ConnectionCount(userID) == 0 }, time.Second, 5*time.Millisecond)

	hub.mu.RLock()
	_, subscribed := hub.subscriptionCancels[userID]
	hub.mu.RUnlock()
	assert.False(t, subscribed)

	// Retries stop once the last connection is gone
	settled := sub.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, sub.calls.Load(), settled+1)
}
