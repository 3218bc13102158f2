package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tutorcall-backend/internal/database"
	"tutorcall-backend/internal/domain"
)

// UserChannel is the pub/sub channel carrying one user's call events
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("calls:user:%s", userID)
}

// EventPublisher fans call events out over Redis pub/sub
type EventPublisher struct {
	client *database.RedisClient
}

// NewEventPublisher creates a new EventPublisher
func NewEventPublisher(client *database.RedisClient) *EventPublisher {
	return &EventPublisher{client: client}
}

// Publish sends the event to the user's channel
func (p *EventPublisher) Publish(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.SafePublish(ctx, UserChannel(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe opens a subscription to the user's channel. Returns
// database.ErrRedisDegraded while Redis is unavailable.
func (p *EventPublisher) Subscribe(ctx context.Context, userID uuid.UUID) (*redis.PubSub, error) {
	sub := p.client.SafeSubscribe(ctx, UserChannel(userID))
	if sub == nil {
		return nil, database.ErrRedisDegraded
	}
	return sub, nil
}
