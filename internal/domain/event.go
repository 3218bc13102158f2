package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallEventType names a lifecycle notification
type CallEventType string

const (
	EventIncoming    CallEventType = "call.incoming"
	EventAnswered    CallEventType = "call.answered"
	EventRejected    CallEventType = "call.rejected"
	EventEnded       CallEventType = "call.ended"
	EventMissed      CallEventType = "call.missed"
	EventParticipant CallEventType = "call.participant_updated"
)

// CallEvent is the payload handed to notifiers
type CallEvent struct {
	Type        CallEventType `json:"type"`
	CallID      uuid.UUID     `json:"call_id"`
	Kind        CallKind      `json:"call_type"`
	Status      CallStatus    `json:"status"`
	ActorID     uuid.UUID     `json:"actor_id"`
	ActorName   string        `json:"actor_name,omitempty"`
	Subject     *string       `json:"subject,omitempty"`
	Reason      *string       `json:"reason,omitempty"`
	Duration    int           `json:"duration_seconds,omitempty"`
	Participant *Participant  `json:"participant,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// NewCallEvent snapshots c for delivery
func NewCallEvent(t CallEventType, c *CallSession, actorID uuid.UUID, now time.Time) *CallEvent {
	return &CallEvent{
		Type:       t,
		CallID:     c.CallID,
		Kind:       c.Kind,
		Status:     c.Status,
		ActorID:    actorID,
		Subject:    cloneString(c.Subject),
		Reason:     cloneString(c.EndReason),
		Duration:   c.Duration,
		OccurredAt: now,
	}
}
