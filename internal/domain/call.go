package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"tutorcall-backend/pkg/quality"
)

// CallKind is the media type of a call
type CallKind string

const (
	CallKindVideo CallKind = "video"
	CallKindAudio CallKind = "audio"
)

// Valid reports whether k is a known call kind
func (k CallKind) Valid() bool {
	return k == CallKindVideo || k == CallKindAudio
}

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusMissed    CallStatus = "missed"
)

// Default end reasons
const (
	ReasonRejected = "Call rejected by user"
	ReasonEnded    = "Call ended by user"
	ReasonMissed   = "Call not answered"
)

var validTransitions = map[CallStatus][]CallStatus{
	CallStatusInitiated: {CallStatusActive, CallStatusRejected, CallStatusMissed, CallStatusEnded},
	CallStatusActive:    {CallStatusEnded},
	CallStatusEnded:     {},
	CallStatusRejected:  {},
	CallStatusMissed:    {},
}

// CanTransitionTo checks if a transition from s to next is valid
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	for _, st := range validTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for ended, rejected and missed
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusRejected || s == CallStatusMissed
}

// Valid reports whether s is a known status
func (s CallStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// NonTerminalStatuses are the states in which a call still occupies its parties
var NonTerminalStatuses = []CallStatus{CallStatusInitiated, CallStatusActive}

// CallSession is one call between a caller and a receiver.
// Participants is indexed by role: Participants[RoleCaller.index()] is the caller.
type CallSession struct {
	CallID        uuid.UUID      `json:"call_id"`
	CallerID      uuid.UUID      `json:"caller_id"`
	ReceiverID    uuid.UUID      `json:"receiver_id"`
	Kind          CallKind       `json:"call_type"`
	Subject       *string        `json:"subject,omitempty"`
	ReservationID *uuid.UUID     `json:"reservation_id,omitempty"`
	Status        CallStatus     `json:"status"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	AnsweredAt    *time.Time     `json:"answered_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Duration      int            `json:"duration_seconds"`
	EndReason     *string        `json:"end_reason,omitempty"`
	ScreenShared  bool           `json:"screen_shared"`
	CreatedAt     time.Time      `json:"created_at"`
	Participants  [2]Participant `json:"participants"`
}

// NewCallSession builds an initiated session with the caller joined and the
// receiver invited.
func NewCallSession(callerID, receiverID uuid.UUID, kind CallKind, subject *string, reservationID *uuid.UUID, now time.Time) *CallSession {
	callID := uuid.New()
	started := now

	c := &CallSession{
		CallID:        callID,
		CallerID:      callerID,
		ReceiverID:    receiverID,
		Kind:          kind,
		Subject:       subject,
		ReservationID: reservationID,
		Status:        CallStatusInitiated,
		StartedAt:     &started,
		CreatedAt:     now,
	}
	c.Participants[RoleCaller.index()] = newParticipant(callID, callerID, RoleCaller)
	c.Participants[RoleReceiver.index()] = newParticipant(callID, receiverID, RoleReceiver)
	c.Caller().Join(now)
	return c
}

// Caller returns the caller's participant state
func (c *CallSession) Caller() *Participant {
	return &c.Participants[RoleCaller.index()]
}

// Receiver returns the receiver's participant state
func (c *CallSession) Receiver() *Participant {
	return &c.Participants[RoleReceiver.index()]
}

// Participant returns userID's participant state, or nil if userID is not a party
func (c *CallSession) Participant(userID uuid.UUID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// IsParty reports whether userID is the caller or the receiver
func (c *CallSession) IsParty(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

// Counterpart returns the other party's id
func (c *CallSession) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// IsTerminal reports whether the session accepts no further transitions
func (c *CallSession) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// Answer moves an initiated call to active. Only the receiver may answer.
func (c *CallSession) Answer(requester uuid.UUID, now time.Time) error {
	if requester != c.ReceiverID {
		return ErrNotReceiver
	}
	if !c.Status.CanTransitionTo(CallStatusActive) {
		return fmt.Errorf("%w: cannot answer a %s call", ErrInvalidTransition, c.Status)
	}

	c.Status = CallStatusActive
	c.AnsweredAt = &now
	c.Receiver().Join(now)
	return nil
}

// Reject terminates an initiated call on behalf of the receiver
func (c *CallSession) Reject(requester uuid.UUID, reason string, now time.Time) error {
	if requester != c.ReceiverID {
		return ErrNotReceiver
	}
	if !c.Status.CanTransitionTo(CallStatusRejected) {
		return fmt.Errorf("%w: cannot reject a %s call", ErrInvalidTransition, c.Status)
	}

	zero := 0
	c.terminate(CallStatusRejected, defaultReason(reason, ReasonRejected), &zero, now)
	return nil
}

// Miss terminates an unanswered call. Driven by the ring timeout.
func (c *CallSession) Miss(reason string, now time.Time) error {
	if !c.Status.CanTransitionTo(CallStatusMissed) {
		return fmt.Errorf("%w: cannot mark a %s call as missed", ErrInvalidTransition, c.Status)
	}

	zero := 0
	c.terminate(CallStatusMissed, defaultReason(reason, ReasonMissed), &zero, now)
	return nil
}

// End terminates the call on behalf of either party. Ending an already
// terminal call is a no-op and reports changed=false.
func (c *CallSession) End(requester uuid.UUID, reason string, clientDuration *int, now time.Time) (bool, error) {
	p := c.Participant(requester)
	if p == nil {
		return false, ErrNotParticipant
	}
	if c.IsTerminal() {
		return false, nil
	}

	c.terminate(CallStatusEnded, defaultReason(reason, ReasonEnded), clientDuration, now)
	p.Leave(now)
	return true, nil
}

func (c *CallSession) terminate(status CallStatus, reason string, clientDuration *int, now time.Time) {
	c.Status = status
	c.EndedAt = &now
	c.EndReason = &reason
	c.Duration = ComputeDuration(clientDuration, c.StartedAt, now)
}

// ComputeDuration returns clientDuration when it is present and non-negative,
// otherwise the whole seconds between startedAt and endedAt, never negative.
func ComputeDuration(clientDuration *int, startedAt *time.Time, endedAt time.Time) int {
	if clientDuration != nil && *clientDuration >= 0 {
		return *clientDuration
	}
	if startedAt == nil || startedAt.IsZero() {
		return 0
	}
	d := int(endedAt.Sub(*startedAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func defaultReason(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

// QualityScore is the average score of the participants that reported metrics
func (c *CallSession) QualityScore() float64 {
	return quality.CallScore(c.Caller().Quality, c.Receiver().Quality)
}

// QualitySummary is the derived quality of a call
type QualitySummary struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// Quality returns nil until a participant has reported a metric
func (c *CallSession) Quality() *QualitySummary {
	if !c.Caller().Quality.HasMetrics() && !c.Receiver().Quality.HasMetrics() {
		return nil
	}
	score := c.QualityScore()
	return &QualitySummary{Score: score, Label: quality.Label(score)}
}

// FormattedDuration renders the duration as mm:ss, or hh:mm:ss past an hour
func (c *CallSession) FormattedDuration() string {
	if c.Duration <= 0 {
		return "00:00"
	}
	h := c.Duration / 3600
	m := (c.Duration % 3600) / 60
	s := c.Duration % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Clone returns a deep copy that shares no pointers with c
func (c *CallSession) Clone() *CallSession {
	if c == nil {
		return nil
	}
	out := *c
	out.Subject = cloneString(c.Subject)
	out.EndReason = cloneString(c.EndReason)
	out.StartedAt = cloneTime(c.StartedAt)
	out.AnsweredAt = cloneTime(c.AnsweredAt)
	out.EndedAt = cloneTime(c.EndedAt)
	if c.ReservationID != nil {
		id := *c.ReservationID
		out.ReservationID = &id
	}
	for i := range c.Participants {
		out.Participants[i] = c.Participants[i].clone()
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
