package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/internal/repository/memory"
	"tutorcall-backend/internal/service/video"
	"tutorcall-backend/pkg/cache"
	"tutorcall-backend/pkg/config"
)

type localStream struct {
	mu     sync.Mutex
	events map[uuid.UUID][]domain.CallEventType
}

func (l *localStream) Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[userID] = append(l.events[userID], event.Type)
	return nil
}

func (l *localStream) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return true, nil
}

func memoryConfig(t *testing.T, users ...uuid.UUID) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	body := "["
	for i, id := range users {
		if i > 0 {
			body += ","
		}
		body += `{"user_id":"` + id.String() + `","username":"u` + id.String()[:4] + `"}`
	}
	body += "]"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return &config.Config{
		Push: config.PushConfig{Provider: "mock"},
		Call: config.CallConfig{
			Store:         config.StoreMemory,
			RingTimeout:   45 * time.Second,
			StatsCacheTTL: time.Minute,
			SeedUsersFile: path,
		},
	}
}

func TestNew_MemoryStore(t *testing.T) {
	tutor, student := uuid.New(), uuid.New()
	c, err := New(context.Background(), memoryConfig(t, tutor, student), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Reservations)
	assert.IsType(t, &memory.CallRepository{}, c.Calls)
	assert.IsType(t, &memory.PushTokenRepository{}, c.PushTokens)
	assert.IsType(t, &cache.StatsCache{}, c.StatsCache)
	require.NotNil(t, c.Push)
}

func TestNewCallService_LocalStream(t *testing.T) {
	tutor, student := uuid.New(), uuid.New()
	c, err := New(context.Background(), memoryConfig(t, tutor, student), nil)
	require.NoError(t, err)
	defer c.Close()

	local := &localStream{events: map[uuid.UUID][]domain.CallEventType{}}
	svc := c.NewCallService(local)

	call, err := svc.Start(context.Background(), &video.StartCallInput{
		CallerID:   student,
		ReceiverID: tutor,
		Kind:       domain.CallKindVideo,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInitiated, call.Status)

	local.mu.Lock()
	defer local.mu.Unlock()
	assert.Equal(t, []domain.CallEventType{domain.EventIncoming}, local.events[tutor])
}

func TestNew_BadSeedFile(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Call.SeedUsersFile = filepath.Join(t.TempDir(), "missing.json")

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewCallService_NoLocal(t *testing.T) {
	c, err := New(context.Background(), memoryConfig(t), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.NewCallService(nil))
}
