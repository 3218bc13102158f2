package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutorcall-backend/pkg/push"
)

// PushTokenRepository keeps device tokens in process memory
type PushTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]*push.Token
	byUser map[uuid.UUID]map[string]struct{}
}

// NewPushTokenRepository creates an empty token store
func NewPushTokenRepository() *PushTokenRepository {
	return &PushTokenRepository{
		tokens: make(map[string]*push.Token),
		byUser: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Store inserts or replaces a token. A token moving to another user leaves
// the previous owner's set.
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	if prev, ok := r.tokens[token.Token]; ok && prev.UserID != token.UserID {
		delete(r.byUser[prev.UserID], token.Token)
	}

	t := *token
	r.tokens[token.Token] = &t
	set := r.byUser[token.UserID]
	if set == nil {
		set = make(map[string]struct{})
		r.byUser[token.UserID] = set
	}
	set[token.Token] = struct{}{}
	return nil
}

// GetByUserID returns copies of the user's tokens
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*push.Token
	for tok := range r.byUser[userID] {
		t := *r.tokens[tok]
		out = append(out, &t)
	}
	return out, nil
}

// MarkInactive flags a token the provider rejected
func (r *PushTokenRepository) MarkInactive(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[token]; ok {
		t.Active = false
		t.UpdatedAt = time.Now().Unix()
	}
	return nil
}

// Delete removes one of the user's tokens
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[token]; ok && t.UserID == userID {
		delete(r.tokens, token)
	}
	delete(r.byUser[userID], token)
	return nil
}
