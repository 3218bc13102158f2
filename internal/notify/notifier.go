// Package notify delivers call events to users over push and pub/sub.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"tutorcall-backend/internal/domain"
)

// Notifier delivers one event to one user
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error
}

// Fanout delivers to every notifier and joins their errors
type Fanout struct {
	notifiers []Notifier
}

// NewFanout skips nil notifiers
func NewFanout(notifiers ...Notifier) *Fanout {
	f := &Fanout{}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Notify never stops at the first failure
func (f *Fanout) Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, userID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher is the pub/sub side, implemented by the Redis event publisher
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error
}

// PubSubNotifier publishes every event to the user's channel for the WebSocket stream
type PubSubNotifier struct {
	publisher Publisher
}

func NewPubSubNotifier(publisher Publisher) *PubSubNotifier {
	return &PubSubNotifier{publisher: publisher}
}

// Notify implements Notifier
func (n *PubSubNotifier) Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error {
	return n.publisher.Publish(ctx, userID, event)
}
