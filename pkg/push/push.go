package push

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorcall-backend/pkg/logger"
)

// ErrInvalidToken is returned when a token registration is malformed
var ErrInvalidToken = errors.New("invalid push token")

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Badge    *int              `json:"badge,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Valid reports whether t is a supported token type
func (t TokenType) Valid() bool {
	return t == TokenTypeFCM || t == TokenTypeAPNs
}

// Token represents a push notification token for a user
type Token struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores device tokens per user
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	MarkInactive(ctx context.Context, token string) error
	Delete(ctx context.Context, userID uuid.UUID, token string) error
}

// Service sends notifications to a user's registered devices
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken stores or reactivates a device token
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	if token == nil || token.Token == "" || token.UserID == uuid.Nil || !token.Type.Valid() {
		return ErrInvalidToken
	}
	token.Active = true
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a device token
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.repo.Delete(ctx, userID, token)
}

// ListTokens returns the user's registered devices
func (s *Service) ListTokens(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// SendToUser sends to every active token of the user. A user with no
// tokens is not an error.
func (s *Service) SendToUser(ctx context.Context, userID uuid.UUID, notification *Notification) (*SendResult, error) {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}

	var active []string
	for _, t := range tokens {
		if t.Active {
			active = append(active, t.Token)
		}
	}
	if len(active) == 0 {
		logger.Debug("No active push tokens", zap.String("user_id", userID.String()))
		return &SendResult{}, nil
	}

	result, err := s.provider.Send(ctx, notification, active)
	if err != nil {
		return nil, fmt.Errorf("failed to send push notification: %w", err)
	}

	logger.Debug("Push notification sent",
		zap.String("user_id", userID.String()),
		zap.String("title", notification.Title),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	s.handleInvalidTokens(ctx, result.InvalidTokens)
	return result, nil
}

// handleInvalidTokens marks invalid tokens as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, t := range invalidTokens {
		if err := s.repo.MarkInactive(ctx, t); err != nil {
			logger.Warn("Failed to mark token as inactive",
				zap.String("token", maskPushToken(t)),
				zap.Error(err))
		}
	}
}

// maskPushToken shows only the first and last 8 characters
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}

// MockProvider records notifications instead of sending them
type MockProvider struct {
	mu   sync.Mutex
	sent []*Notification
	// Err, when set, is returned by every Send
	Err error
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	m.sent = append(m.sent, notification)

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Sent returns the notifications recorded so far
func (m *MockProvider) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Notification(nil), m.sent...)
}
