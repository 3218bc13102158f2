package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"tutorcall-backend/internal/domain"
)

// UserRepository is an in-memory user directory for single-node runs and tests
type UserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

// NewUserRepository creates a directory seeded with users
func NewUserRepository(users ...*domain.User) *UserRepository {
	r := &UserRepository{users: make(map[uuid.UUID]*domain.User, len(users))}
	for _, u := range users {
		r.Add(u)
	}
	return r
}

// Add inserts or replaces a user
func (r *UserRepository) Add(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := *user
	r.users[user.UserID] = &u
}

// GetByID returns domain.ErrUserNotFound for unknown ids
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

// LoadUsers reads a JSON array of users. Users without an explicit
// available_for_calls field are opted in.
func LoadUsers(path string) ([]*domain.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var raw []struct {
		domain.User
		AvailableForCalls *bool `json:"available_for_calls"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}

	users := make([]*domain.User, 0, len(raw))
	for i := range raw {
		u := raw[i].User
		if u.UserID == uuid.Nil {
			return nil, fmt.Errorf("user %d has no user_id", i)
		}
		u.AvailableForCalls = raw[i].AvailableForCalls == nil || *raw[i].AvailableForCalls
		users = append(users, &u)
	}
	return users, nil
}
