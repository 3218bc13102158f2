package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/pkg/metrics"
	"tutorcall-backend/pkg/push"
	"tutorcall-backend/pkg/resilience"
)

// PushSender is satisfied by *push.Service
type PushSender interface {
	SendToUser(ctx context.Context, userID uuid.UUID, notification *push.Notification) (*push.SendResult, error)
}

// PushNotifier sends device notifications for the events a user must see
// without an open app: incoming, missed and ended calls. Other events are
// left to the live stream.
type PushNotifier struct {
	sender  PushSender
	breaker *resilience.Breaker
	metrics *metrics.Metrics
}

// NewPushNotifier creates a push notifier. breaker and m may be nil.
func NewPushNotifier(sender PushSender, breaker *resilience.Breaker, m *metrics.Metrics) *PushNotifier {
	return &PushNotifier{sender: sender, breaker: breaker, metrics: m}
}

// Notify implements Notifier
func (n *PushNotifier) Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error {
	notification := buildNotification(userID, event)
	if notification == nil {
		return nil
	}

	send := func(ctx context.Context) error {
		_, err := n.sender.SendToUser(ctx, userID, notification)
		return err
	}

	var err error
	if n.breaker != nil {
		err = n.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}

	if n.metrics != nil {
		if err != nil {
			n.metrics.RecordPushNotificationFailure(string(event.Type), "all", resilience.ClassifyError(err))
		} else {
			n.metrics.RecordPushNotification(string(event.Type), "all")
		}
	}
	if err != nil {
		return fmt.Errorf("push %s: %w", event.Type, err)
	}
	return nil
}

// buildNotification returns nil for events that are not pushed
func buildNotification(userID uuid.UUID, event *domain.CallEvent) *push.Notification {
	data := &push.CallNotificationData{
		CallID:     event.CallID.String(),
		CallType:   string(event.Kind),
		CallerID:   event.ActorID.String(),
		CallerName: event.ActorName,
		Duration:   event.Duration,
	}
	if event.Subject != nil {
		data.Subject = *event.Subject
	}
	if event.Reason != nil {
		data.Reason = *event.Reason
	}

	switch event.Type {
	case domain.EventIncoming:
		return push.IncomingCallNotification(data)
	case domain.EventMissed:
		// the caller already knows nobody answered
		if userID == event.ActorID {
			return nil
		}
		return push.MissedCallNotification(data)
	case domain.EventEnded:
		return push.CallEndedNotification(data)
	}
	return nil
}
